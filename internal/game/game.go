package game

// ColorReserved marks the "no target" sentinel the detector sends when
// the crosshair is not over a player color. Hits against it never resolve.
const ColorReserved = "cyan"

// DefaultStartPoints is the score every player spawns with.
const DefaultStartPoints = 50

type Weapon string

const (
	WeaponPistol  Weapon = "pistol"
	WeaponShotgun Weapon = "shotgun"
	WeaponSniper  Weapon = "sniper"
)

// DamageTable maps each weapon to the points removed from the target on a
// landed hit. Unknown weapons are not in the table and resolve to a no-op.
var DamageTable = map[Weapon]int{
	WeaponPistol:  10,
	WeaponShotgun: 12,
	WeaponSniper:  32,
}

type Player struct {
	Username  string
	Color     string
	Points    int
	HitsGiven int
	HitsTaken int
	PowerUps  map[PowerUp]int // kind -> remaining ticks
	JoinSeq   int
}

func NewPlayer(username, color string, points, joinSeq int) *Player {
	return &Player{
		Username: username,
		Color:    color,
		Points:   points,
		PowerUps: map[PowerUp]int{},
		JoinSeq:  joinSeq,
	}
}

// Eliminated reports whether the player is out of the game. Eliminated
// players stay on the roster but can neither deal nor take damage.
func (p *Player) Eliminated() bool { return p.Points <= 0 }

func (p *Player) HasPowerUp(kind PowerUp) bool { return p.PowerUps[kind] > 0 }

// HitResult describes the outcome of a resolved hit.
type HitResult struct {
	Attacker   string
	Target     string
	Weapon     Weapon
	Damage     int
	Reward     int
	Eliminated bool
}

// ResolveHit applies one hit event against the roster. It returns false for
// every legitimate no-op: reserved target color, unknown weapon, missing or
// already-eliminated attacker/target, or an invincible target. On success it
// mutates attacker and target in place and reports what happened.
//
// Resolution is deterministic: the only state consulted is the roster itself,
// so the same roster and arguments always produce the same outcome.
func ResolveHit(players map[string]*Player, attacker, targetColor string, weapon Weapon) (HitResult, bool) {
	if targetColor == ColorReserved {
		return HitResult{}, false
	}

	atk := players[attacker]
	if atk == nil || atk.Eliminated() {
		return HitResult{}, false
	}

	target := findByColor(players, targetColor)
	if target == nil || target.Eliminated() || target.HasPowerUp(PowerUpInvincibility) {
		return HitResult{}, false
	}

	res := HitResult{Attacker: atk.Username, Target: target.Username, Weapon: weapon}

	if atk.HasPowerUp(PowerUpInstakill) {
		res.Damage = target.Points
		res.Reward = target.Points / 2
		target.Points = 0
	} else {
		damage, ok := DamageTable[weapon]
		if !ok {
			return HitResult{}, false
		}
		res.Damage = damage
		res.Reward = damage / 2
		target.Points = max(0, target.Points-damage)
	}

	atk.Points += res.Reward
	atk.HitsGiven++
	target.HitsTaken++
	res.Eliminated = target.Points == 0

	return res, true
}

func findByColor(players map[string]*Player, color string) *Player {
	for _, p := range players {
		if p.Color == color {
			return p
		}
	}
	return nil
}

// ColorAvailable reports whether no connected player already uses color.
func ColorAvailable(players map[string]*Player, color string) bool {
	return findByColor(players, color) == nil
}
