package model

import (
	"encoding/json"
	"testing"
)

func TestConnectionsMarshalSortsLevelsAndIDs(t *testing.T) {
	c := Connections{1: {"z", "a"}, 0: {"c", "b"}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"0":["b","c"],"1":["a","z"]}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}

func TestConnectionsMarshalNilIsEmptyObject(t *testing.T) {
	var c Connections
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Errorf("Marshal(nil) = %s, want {}", data)
	}
}

func TestConnectionsRoundTrip(t *testing.T) {
	c := Connections{0: {"a", "b"}, 2: {"x"}}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	var out Connections
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out[0]) != 2 || len(out[2]) != 1 {
		t.Errorf("round-tripped Connections = %+v", out)
	}
}

func TestConnectionsCloneIsIndependent(t *testing.T) {
	c := Connections{0: {"a"}}
	clone := c.Clone()
	clone[0][0] = "mutated"
	if c[0][0] != "a" {
		t.Error("Clone shares backing array with the original")
	}
}

func TestMetadataNounType(t *testing.T) {
	m := Metadata{"noun": "document", "lang": "en"}
	if got := m.NounType(); got != "document" {
		t.Errorf("NounType() = %q, want document", got)
	}
}

func TestMetadataNounTypeMissingOrNil(t *testing.T) {
	if got := Metadata(nil).NounType(); got != "" {
		t.Errorf("NounType() on nil = %q, want empty", got)
	}
	if got := (Metadata{"lang": "en"}).NounType(); got != "" {
		t.Errorf("NounType() without noun key = %q, want empty", got)
	}
}

func TestStatisticsCloneIsIndependent(t *testing.T) {
	s := Statistics{NounCount: map[string]uint64{"svc": 1}}
	clone := s.Clone()
	clone.NounCount["svc"] = 99
	if s.NounCount["svc"] != 1 {
		t.Error("Clone shares the NounCount map with the original")
	}
}
