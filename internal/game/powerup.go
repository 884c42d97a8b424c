package game

type PowerUp string

const (
	PowerUpInvincibility PowerUp = "invincibility"
	PowerUpInstakill     PowerUp = "instakill"
)

// Kinds lists every power-up the grant roll can draw from.
var Kinds = []PowerUp{PowerUpInvincibility, PowerUpInstakill}

// Rand is the randomness the grant roll depends on. *math/rand.Rand
// satisfies it; tests substitute a seeded or scripted source.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// TickPowerUps decrements every active power-up on p by one tick and
// removes entries that have run out.
func TickPowerUps(p *Player) {
	for kind, left := range p.PowerUps {
		left--
		if left <= 0 {
			delete(p.PowerUps, kind)
			continue
		}
		p.PowerUps[kind] = left
	}
}

// RollGrant draws at most one power-up with probability chance.
// The kind is uniform over Kinds.
func RollGrant(rng Rand, chance float64) (PowerUp, bool) {
	if rng.Float64() >= chance {
		return "", false
	}
	return Kinds[rng.Intn(len(Kinds))], true
}
