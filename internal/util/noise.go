package util

import (
	"github.com/aquilax/go-perlin"
)

// Noise - генератор шума Перлина, привязанный к сиду.
// Каждый экземпляр независим, поэтому генераторы с разными сидами не мешают друг другу.
type Noise struct {
	seed   int64
	perlin *perlin.Perlin
}

// NewNoise создаёт генератор шума с указанным сидом
func NewNoise(seed int64) *Noise {
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Noise{seed: seed, perlin: perlin.NewPerlin(alpha, beta, n, seed)}
}

// Seed возвращает сид генератора
func (n *Noise) Seed() int64 { return n.seed }

// At возвращает значение шума для указанных координат (от 0 до 1)
func (n *Noise) At(x, y float64) float64 {
	// Значение шума от -1 до 1
	v := n.perlin.Noise2D(x, y)
	return clamp01((v + 1.0) / 2.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
