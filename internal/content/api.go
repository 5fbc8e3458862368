package content

import (
	lua "github.com/yuin/gopher-lua"
)

// registerAPI installs the constructors and helpers. It is re-run per file
// so definitions remember where they came from.
func registerAPI(L *lua.LState, coll *collector, file string) {
	// Town { name = "..." }
	L.SetGlobal("Town", L.NewFunction(func(L *lua.LState) int {
		coll.town = L.CheckTable(1)
		return 0
	}))

	curried := func(name string, into *[]rawDef) {
		// Good "id" { ... }: Good("id") returns a function taking the table.
		L.SetGlobal(name, L.NewFunction(func(L *lua.LState) int {
			id := L.CheckString(1)
			L.Push(L.NewFunction(func(L *lua.LState) int {
				*into = append(*into, rawDef{id: id, table: L.CheckTable(1), file: file})
				return 0
			}))
			return 1
		}))
	}
	curried("Good", &coll.goods)
	curried("Faction", &coll.factions)
	curried("NPC", &coll.npcs)
	curried("Quest", &coll.quests)

	// Rep("target", min) is a reputation threshold.
	L.SetGlobal("Rep", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		tbl.RawSetString("target", lua.LString(L.CheckString(1)))
		tbl.RawSetString("min", L.CheckNumber(2))
		L.Push(tbl)
		return 1
	}))

	// Trade("good", "buy"|"sell", qty) is a trade goal.
	L.SetGlobal("Trade", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		tbl.RawSetString("kind", lua.LString("trade"))
		tbl.RawSetString("good", lua.LString(L.CheckString(1)))
		tbl.RawSetString("direction", lua.LString(L.CheckString(2)))
		tbl.RawSetString("quantity", L.CheckNumber(3))
		L.Push(tbl)
		return 1
	}))

	// Talk("agent") is a talk goal.
	L.SetGlobal("Talk", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		tbl.RawSetString("kind", lua.LString("talk"))
		tbl.RawSetString("agent", lua.LString(L.CheckString(1)))
		L.Push(tbl)
		return 1
	}))
}
