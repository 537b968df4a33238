package handlers

import (
	"reflect"
	"testing"
)

func collect(l *List[string]) []string {
	var out []string
	l.Each(func(h string) { out = append(out, h) })
	return out
}

func TestListRegistrationOrder(t *testing.T) {
	var l List[string]
	for _, h := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		l.Add(h)
	}

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for i := 0; i < 20; i++ {
		if got := collect(&l); !reflect.DeepEqual(got, want) {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}
}

func TestListRemove(t *testing.T) {
	tests := []struct {
		name   string
		remove []int
		want   []string
	}{
		{name: "first", remove: []int{0}, want: []string{"b", "c", "d"}},
		{name: "middle", remove: []int{2}, want: []string{"a", "b", "d"}},
		{name: "last", remove: []int{3}, want: []string{"a", "b", "c"}},
		{name: "twice", remove: []int{1, 1}, want: []string{"a", "c", "d"}},
		{name: "all", remove: []int{3, 0, 2, 1}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l List[string]
			ids := []uint64{l.Add("a"), l.Add("b"), l.Add("c"), l.Add("d")}
			for _, i := range tt.remove {
				l.Remove(ids[i])
			}
			if got := collect(&l); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if l.Len() != len(tt.want) {
				t.Errorf("Expected length %d, got %d", len(tt.want), l.Len())
			}
		})
	}
}

func TestListAddAfterRemoveAppends(t *testing.T) {
	var l List[string]
	first := l.Add("a")
	l.Add("b")
	l.Remove(first)
	l.Add("c")

	want := []string{"b", "c"}
	if got := collect(&l); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestListRemoveKeepsSnapshot(t *testing.T) {
	var l List[string]
	l.Add("a")
	id := l.Add("b")
	l.Add("c")

	snapshot := l.entries
	l.Remove(id)

	if snapshot[1].handler != "b" {
		t.Errorf("Expected earlier entries slice to be untouched, got %q at index 1", snapshot[1].handler)
	}
}
