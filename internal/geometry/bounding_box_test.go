package geometry

import (
	"reflect"
	"testing"
)

func TestMergeBoundingBoxList(t *testing.T) {
	got := MergeBoundingBoxList([]*BoundingBox{
		NewBoundingBox(0, 1, 0, 1, 0, 10),
		nil,
		NewBoundingBox(-1, 0.5, 0.5, 2, 5, 20),
	})
	want := NewBoundingBox(-1, 1, 0, 2, 0, 20)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("have %+v, want %+v", got, want)
	}

	if MergeBoundingBoxList(nil) != nil {
		t.Error("merging an empty list should return nil")
	}
}

func TestContains(t *testing.T) {
	parent := NewBoundingBox(0, 1, 0, 1, 0, 10)
	tests := []struct {
		name  string
		child *BoundingBox
		want  bool
	}{
		{"equal", NewBoundingBox(0, 1, 0, 1, 0, 10), true},
		{"inner", NewBoundingBox(0.2, 0.8, 0.2, 0.8, 1, 2), true},
		{"within tolerance", NewBoundingBox(-1e-10, 1, 0, 1, 0, 10), true},
		{"outside x", NewBoundingBox(0, 1.1, 0, 1, 0, 10), false},
		{"outside height", NewBoundingBox(0, 1, 0, 1, -1, 10), false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := parent.Contains(test.child, ContainmentEpsilon); got != test.want {
				t.Errorf("have %v, want %v", got, test.want)
			}
		})
	}
}

func TestRegionArray(t *testing.T) {
	b := NewBoundingBox(1, 2, 3, 4, 5, 6)
	region := b.GetAsArray()
	if !reflect.DeepEqual(region, []float64{1, 3, 2, 4, 5, 6}) {
		t.Errorf("unexpected region order %v", region)
	}
	back, err := NewBoundingBoxFromRegion(region)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(back, b) {
		t.Errorf("have %+v, want %+v", back, b)
	}
	if _, err := NewBoundingBoxFromRegion([]float64{1, 2}); err == nil {
		t.Error("short region should fail")
	}
}

func TestValidate(t *testing.T) {
	if err := NewBoundingBox(0, 1, 0, 1, 0, 1).Validate(); err != nil {
		t.Error(err)
	}
	if err := NewBoundingBox(1, 0, 0, 1, 0, 1).Validate(); err == nil {
		t.Error("inverted box should fail validation")
	}
}
