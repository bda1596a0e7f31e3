// Package match finds the enrolled identity whose face encoding lies within
// tolerance of a query encoding.
package match

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

const DefaultTolerance = 0.5

// Policy selects which qualifying identity wins when more than one lies
// within tolerance of the query.
type Policy string

const (
	// PolicyFirst returns the first qualifying identity in enrollment order.
	PolicyFirst Policy = "first"
	// PolicyNearest returns the qualifying identity at minimum distance,
	// ties going to the earlier enrollment.
	PolicyNearest Policy = "nearest"
)

var ErrInvalidTolerance = errors.New("tolerance must be a positive finite number")

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFirst, "":
		return PolicyFirst, nil
	case PolicyNearest:
		return PolicyNearest, nil
	default:
		return "", fmt.Errorf("unknown match policy %q (want first or nearest)", s)
	}
}

// Matcher is safe for concurrent use; tolerance and policy may be changed
// while the gate is running.
type Matcher struct {
	mu        sync.RWMutex
	tolerance float64
	policy    Policy
	length    int
}

// New returns a Matcher for vectors of the given length.  A non-positive
// length falls back to types.VectorLength.
func New(tolerance float64, policy Policy, length int) (*Matcher, error) {
	if length <= 0 {
		length = types.VectorLength
	}
	m := &Matcher{length: length, policy: PolicyFirst}
	if err := m.SetTolerance(tolerance); err != nil {
		return nil, err
	}
	m.SetPolicy(policy)
	return m, nil
}

func (m *Matcher) SetTolerance(tolerance float64) error {
	if tolerance <= 0 || math.IsNaN(tolerance) || math.IsInf(tolerance, 0) {
		return ErrInvalidTolerance
	}
	m.mu.Lock()
	m.tolerance = tolerance
	m.mu.Unlock()
	return nil
}

func (m *Matcher) SetPolicy(p Policy) {
	if p != PolicyNearest {
		p = PolicyFirst
	}
	m.mu.Lock()
	m.policy = p
	m.mu.Unlock()
}

func (m *Matcher) Settings() (float64, Policy) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tolerance, m.policy
}

// Length is the encoding length this matcher accepts.
func (m *Matcher) Length() int { return m.length }

// Match compares v against every identity in order.  Identities whose stored
// vector has the wrong length or a non-finite component are skipped, and a
// query like that matches nothing.
func (m *Matcher) Match(v types.Vector, identities []types.Identity) (types.Identity, bool) {
	tolerance, policy := m.Settings()
	if len(v) != m.length || !Finite(v) {
		return types.Identity{}, false
	}

	best := -1
	bestDist := math.Inf(1)
	for i, ident := range identities {
		if len(ident.Vector) != m.length || !Finite(ident.Vector) {
			continue
		}
		d := Distance(v, ident.Vector)
		if !(d <= tolerance) {
			continue
		}
		if policy == PolicyFirst {
			return ident, true
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return types.Identity{}, false
	}
	return identities[best], true
}

// Distance is the Euclidean distance between a and b.  Callers guarantee
// equal lengths.
func Distance(a, b types.Vector) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Finite reports whether every component of v is a finite number.
func Finite(v types.Vector) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
