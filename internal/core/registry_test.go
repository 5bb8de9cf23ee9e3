package core

import "testing"

func TestRegisterModule_RejectsInvalidID(t *testing.T) {
	t.Cleanup(resetRegistry)

	cases := []string{"", "Storage.Postgres", "storage.", ".dlq", "queue redis", "gateway.Http"}
	for _, id := range cases {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("RegisterModule accepted invalid ID %q", id)
				}
			}()
			RegisterModule(&trackingModule{id: ModuleID(id)})
		}()
	}
}

func TestRegisterModule_RejectsDuplicate(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&trackingModule{id: "storage.dup"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	RegisterModule(&trackingModule{id: "storage.dup"})
}

func TestGetModules_Sorted(t *testing.T) {
	t.Cleanup(resetRegistry)

	for _, id := range []ModuleID{"storage.sqlite", "dlq", "gateway.http"} {
		RegisterModule(&trackingModule{id: id})
	}

	mods := GetModules()
	want := []ModuleID{"dlq", "gateway.http", "storage.sqlite"}
	if len(mods) != len(want) {
		t.Fatalf("modules = %v", mods)
	}
	for i := range want {
		if mods[i].ID != want[i] {
			t.Errorf("mods[%d].ID = %s, want %s", i, mods[i].ID, want[i])
		}
	}
}
