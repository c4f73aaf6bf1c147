// Command zdump inspects the static data of a Z-Machine story file: its
// object tree, dictionary, and (optionally) a Quetzal save file saved
// against it. It does not execute the story file; it exists to exercise
// objecttable, dictionary, and quetzal end to end against real story
// bytes.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"

	"github.com/davetcode/zqz/dictionary"
	"github.com/davetcode/zqz/objecttable"
	"github.com/davetcode/zqz/quetzal"
)

var (
	romFilePath  string
	saveFilePath string
	dumpObjects  bool
	dumpDict     bool
	lookupWord   string
)

func init() {
	flag.StringVar(&romFilePath, "rom", "", "path to a z-machine story file")
	flag.StringVar(&saveFilePath, "save", "", "path to a Quetzal save file to inspect against -rom")
	flag.BoolVar(&dumpObjects, "objects", false, "dump the object tree")
	flag.BoolVar(&dumpDict, "dict", false, "load and validate the dictionary (entries are not listed)")
	flag.StringVar(&lookupWord, "lookup", "", "look up a single word in the dictionary and print its address")
	flag.Parse()
}

func zversion(b byte) objecttable.ZVersion { return objecttable.ZVersion(b) }
func dversion(b byte) dictionary.ZVersion  { return dictionary.ZVersion(b) }

func main() {
	if romFilePath == "" {
		fmt.Fprintln(os.Stderr, "zdump: -rom is required")
		os.Exit(1)
	}

	rom, err := os.ReadFile(romFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "zdump: %v\n", err)
		os.Exit(1)
	}

	version := rom[0x00]
	objectTableBase := uint32(binary.BigEndian.Uint16(rom[0x0a:0x0c]))
	dictionaryBase := uint32(binary.BigEndian.Uint16(rom[0x08:0x0a]))
	staticMemoryBase := uint32(binary.BigEndian.Uint16(rom[0x0e:0x10]))

	if dumpObjects || (!dumpDict && lookupWord == "" && saveFilePath == "") {
		if err := runDumpObjects(rom, zversion(version), objectTableBase, staticMemoryBase); err != nil {
			fmt.Fprintf(os.Stderr, "zdump: %v\n", err)
			os.Exit(1)
		}
	}

	if dumpDict || lookupWord != "" {
		if err := runDictionary(rom, dversion(version), dictionaryBase); err != nil {
			fmt.Fprintf(os.Stderr, "zdump: %v\n", err)
			os.Exit(1)
		}
	}

	if saveFilePath != "" {
		if err := runSave(rom, saveFilePath); err != nil {
			fmt.Fprintf(os.Stderr, "zdump: %v\n", err)
			os.Exit(1)
		}
	}
}

func runDumpObjects(rom []byte, version objecttable.ZVersion, tableOffset, staticBase uint32) error {
	table, err := objecttable.Load(rom, version, tableOffset, staticBase)
	if err != nil {
		return err
	}
	if err := table.CheckTreeCoherence(); err != nil {
		fmt.Fprintf(os.Stderr, "zdump: warning: object tree is incoherent: %v\n", err)
	}

	for obj := objecttable.ObjectNumber(1); int(obj) <= table.Count(); obj++ {
		parent := table.GetParent(obj)
		child := table.GetChild(obj)
		sibling := table.GetSibling(obj)
		fmt.Printf("object %d: parent=%d child=%d sibling=%d\n", obj, parent, child, sibling)
	}
	return nil
}

func runDictionary(rom []byte, version dictionary.ZVersion, base uint32) error {
	dict, err := dictionary.Load(rom, base, version)
	if err != nil {
		return err
	}

	if lookupWord != "" {
		entry, ok := dict.Lookup(lookupWord)
		if !ok {
			fmt.Printf("%q not found\n", lookupWord)
			return nil
		}
		fmt.Printf("%q -> address 0x%x\n", lookupWord, entry.Address)
	}
	return nil
}

func runSave(rom []byte, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	orig := rom[:binary.BigEndian.Uint16(rom[0x0e:0x10])]
	state, err := quetzal.Read(data, orig)
	if err != nil {
		return err
	}

	fmt.Printf("release %d, serial %s, checksum 0x%x\n", state.Identification.Release, state.Identification.Serial, state.Identification.Checksum)
	fmt.Printf("program counter: 0x%x\n", state.ProgramCounter)
	fmt.Printf("call stack depth: %d\n", len(state.Stack.Frames))
	fmt.Printf("eval stack depth: %d\n", len(state.Stack.EvalStack))
	return nil
}
