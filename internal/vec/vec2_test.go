package vec

import "testing"

func TestVec2_InBounds(t *testing.T) {
	cases := []struct {
		v    Vec2
		want bool
	}{
		{Vec2{0, 0}, true},
		{Vec2{199, 199}, true},
		{Vec2{200, 0}, false},
		{Vec2{-1, 5}, false},
	}
	for _, c := range cases {
		if got := c.v.InBounds(200, 200); got != c.want {
			t.Errorf("%v.InBounds(200,200) = %v, ожидалось %v", c.v, got, c.want)
		}
	}
}

func TestVec2_LessIsRowMajor(t *testing.T) {
	if !(Vec2{X: 5, Y: 0}).Less(Vec2{X: 0, Y: 1}) {
		t.Error("строка 0 должна идти раньше строки 1")
	}
	if (Vec2{X: 2, Y: 3}).Less(Vec2{X: 1, Y: 3}) {
		t.Error("в одной строке порядок по X")
	}
	if s := (Vec2{X: 4, Y: 7}).String(); s != "(4,7)" {
		t.Errorf("String() = %q", s)
	}
}
