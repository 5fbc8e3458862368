package content

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// collector accumulates Lua definitions during file execution.
type collector struct {
	town     *lua.LTable
	goods    []rawDef
	factions []rawDef
	npcs     []rawDef
	quests   []rawDef
}

// rawDef holds a curried constructor's id and table before compilation.
type rawDef struct {
	id    string
	table *lua.LTable
	file  string
}

// Load reads every .lua file in dir (town.lua first, the rest in name
// order), compiles the definitions into a Town and validates it. The Lua
// VM is discarded after loading.
func Load(dir string) (*Town, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading content directory %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".lua") {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .lua files found in %s", dir)
	}
	slices.SortFunc(files, func(a, b string) int {
		switch {
		case a == "town.lua":
			return -1
		case b == "town.lua":
			return 1
		}
		return strings.Compare(a, b)
	})

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openSafeLibs(L)
	sandbox(L)

	coll := &collector{}
	for _, f := range files {
		registerAPI(L, coll, f)
		if err := L.DoFile(filepath.Join(dir, f)); err != nil {
			return nil, fmt.Errorf("executing %s: %w", f, err)
		}
	}

	town, err := compile(coll)
	if err != nil {
		return nil, fmt.Errorf("compiling town: %w", err)
	}
	if err := town.Validate(); err != nil {
		return nil, fmt.Errorf("validating town: %w", err)
	}
	return town, nil
}

// openSafeLibs opens only the safe subset of Lua standard libraries.
func openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// sandbox removes globals that reach outside the VM or break determinism.
func sandbox(L *lua.LState) {
	for _, name := range []string{
		"dofile", "loadfile", "load", "loadstring",
		"rawset", "rawget", "rawequal",
		"collectgarbage", "require",
	} {
		L.SetGlobal(name, lua.LNil)
	}
	if tbl, ok := L.GetGlobal("math").(*lua.LTable); ok {
		tbl.RawSetString("random", lua.LNil)
		tbl.RawSetString("randomseed", lua.LNil)
	}
}
