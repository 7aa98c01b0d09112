package randstate

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/brianvoe/gofakeit/v7"
	"gonum.org/v1/gonum/stat/distuv"

	"mediasim/internal/simerr"
)

type Kind string

const (
	KindUniform     Kind = "uniform"
	KindExponential Kind = "exponential"
	KindNormal      Kind = "normal"
	KindDirichlet   Kind = "dirichlet"
	KindPoisson     Kind = "poisson"
	KindChoice      Kind = "choice"
	KindShuffle     Kind = "shuffle"
	KindName        Kind = "name"
	KindIPv4        Kind = "ipv4"
	KindUserAgent   Kind = "user_agent"
)

// Params carries the distribution parameters of a draw. Fields a kind does
// not use are ignored.
//
//	uniform      Low, High (both zero: [0,1))
//	exponential  Loc, Scale (Scale zero: 1)
//	normal       Loc, Scale (Scale zero: 1)
//	dirichlet    Alpha, required
//	poisson      Lambda, required
//	choice       Weights, required, normalized internally
//	shuffle      Size, required
type Params struct {
	Low     float64   `json:"low,omitempty"`
	High    float64   `json:"high,omitempty"`
	Loc     float64   `json:"loc,omitempty"`
	Scale   float64   `json:"scale,omitempty"`
	Lambda  float64   `json:"lambda,omitempty"`
	Alpha   []float64 `json:"alpha,omitempty"`
	Weights []float64 `json:"weights,omitempty"`
	Size    int       `json:"size,omitempty"`
}

// Variates holds the result of one Generate call. Exactly one slice is
// populated, depending on the kind.
type Variates struct {
	Kind    Kind        `json:"kind"`
	Floats  []float64   `json:"floats,omitempty"`
	Ints    []int       `json:"ints,omitempty"`
	Vectors [][]float64 `json:"vectors,omitempty"`
	Perms   [][]int     `json:"perms,omitempty"`
	Strings []string    `json:"strings,omitempty"`
}

func (v Variates) Len() int {
	switch {
	case v.Floats != nil:
		return len(v.Floats)
	case v.Ints != nil:
		return len(v.Ints)
	case v.Vectors != nil:
		return len(v.Vectors)
	case v.Perms != nil:
		return len(v.Perms)
	default:
		return len(v.Strings)
	}
}

// Value returns the single variate when one was drawn and the whole sequence
// otherwise.
func (v Variates) Value() any {
	n := v.Len()
	switch {
	case v.Floats != nil:
		if n == 1 {
			return v.Floats[0]
		}
		return v.Floats
	case v.Ints != nil:
		if n == 1 {
			return v.Ints[0]
		}
		return v.Ints
	case v.Vectors != nil:
		if n == 1 {
			return v.Vectors[0]
		}
		return v.Vectors
	case v.Perms != nil:
		if n == 1 {
			return v.Perms[0]
		}
		return v.Perms
	default:
		if n == 1 {
			return v.Strings[0]
		}
		return v.Strings
	}
}

// Stream is embedded by every entity that owns a random sequence. The only
// way to draw from it is Generate, which brackets the draw with decode and
// encode of RandomState.
type Stream struct {
	Seed        int64  `json:"seed"`
	RandomState string `json:"random_state,omitempty"`
}

// Entity is anything embedding a Stream.
type Entity interface {
	RandStream() *Stream
}

func (s *Stream) RandStream() *Stream { return s }

// Init reseeds both engines from Seed and stores the resulting state.
func (s *Stream) Init() error {
	blob, err := NewState(s.Seed).Encode()
	if err != nil {
		return err
	}
	s.RandomState = blob
	return nil
}

// Generate draws n variates of the given kind and advances RandomState. An
// empty RandomState is initialized from Seed first. Invalid requests fail
// with simerr.ErrInvalidArgument and leave the state untouched.
func (s *Stream) Generate(kind Kind, n int, p Params) (Variates, error) {
	if n < 1 {
		return Variates{}, fmt.Errorf("%w: variate count %d", simerr.ErrInvalidArgument, n)
	}
	if err := validate(kind, p); err != nil {
		return Variates{}, err
	}
	if s.RandomState == "" {
		if err := s.Init(); err != nil {
			return Variates{}, err
		}
	}
	st, err := Decode(s.RandomState)
	if err != nil {
		return Variates{}, err
	}
	out := draw(st, kind, n, p)
	blob, err := st.Encode()
	if err != nil {
		return Variates{}, err
	}
	s.RandomState = blob
	return out, nil
}

// Init seeds e's stream from its Seed.
func Init(e Entity) error {
	return e.RandStream().Init()
}

// Generate draws from e's stream. See Stream.Generate.
func Generate(e Entity, kind Kind, n int, p Params) (Variates, error) {
	return e.RandStream().Generate(kind, n, p)
}

// DeriveSeed mixes a label into a base seed so sibling entities get distinct
// but reproducible streams.
func DeriveSeed(base int64, label string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(label))
	return base ^ int64(h.Sum64()&math.MaxInt64)
}

func validate(kind Kind, p Params) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", simerr.ErrInvalidArgument, kind, fmt.Sprintf(format, args...))
	}
	switch kind {
	case KindUniform:
		if p.High < p.Low {
			return invalid("high %v below low %v", p.High, p.Low)
		}
	case KindExponential, KindNormal:
		if p.Scale < 0 {
			return invalid("negative scale %v", p.Scale)
		}
	case KindDirichlet:
		if len(p.Alpha) == 0 {
			return invalid("alpha is required")
		}
		for _, a := range p.Alpha {
			if !(a > 0) || math.IsInf(a, 0) {
				return invalid("alpha components must be positive")
			}
		}
	case KindPoisson:
		if !(p.Lambda > 0) || math.IsInf(p.Lambda, 0) {
			return invalid("lambda is required and must be positive")
		}
	case KindChoice:
		if len(p.Weights) == 0 {
			return invalid("weights are required")
		}
		if _, ok := normalize(p.Weights); !ok {
			return invalid("weights cannot be normalized")
		}
	case KindShuffle:
		if p.Size < 1 {
			return invalid("size is required")
		}
	case KindName, KindIPv4, KindUserAgent:
	default:
		return fmt.Errorf("%w: unknown variate kind %q", simerr.ErrInvalidArgument, kind)
	}
	return nil
}

// draw assumes validate accepted kind and p. Every statistical kind pulls
// from the stream's PCG engine.
func draw(st *State, kind Kind, n int, p Params) Variates {
	out := Variates{Kind: kind}
	switch kind {
	case KindUniform:
		low, high := p.Low, p.High
		if low == 0 && high == 0 {
			high = 1
		}
		out.Floats = sample(n, distuv.Uniform{Min: low, Max: high, Src: st.stats})
	case KindExponential:
		out.Floats = sample(n, distuv.Exponential{Rate: 1 / scaleOrOne(p.Scale), Src: st.stats})
		for i := range out.Floats {
			out.Floats[i] += p.Loc
		}
	case KindNormal:
		out.Floats = sample(n, distuv.Normal{Mu: p.Loc, Sigma: scaleOrOne(p.Scale), Src: st.stats})
	case KindDirichlet:
		out.Vectors = make([][]float64, n)
		for i := range out.Vectors {
			out.Vectors[i] = dirichlet(st.stats, p.Alpha)
		}
	case KindPoisson:
		out.Ints = make([]int, n)
		for i := range out.Ints {
			out.Ints[i] = poisson(st.stats, p.Lambda)
		}
	case KindChoice:
		probs, _ := normalize(p.Weights)
		out.Ints = choice(st.stats, probs, n)
	case KindShuffle:
		r := rand.New(st.stats)
		out.Perms = make([][]int, n)
		for i := range out.Perms {
			out.Perms[i] = r.Perm(p.Size)
		}
	case KindName, KindIPv4, KindUserAgent:
		f := gofakeit.NewFaker(st.fake, false)
		out.Strings = make([]string, n)
		for i := range out.Strings {
			switch kind {
			case KindName:
				out.Strings[i] = f.Name()
			case KindIPv4:
				out.Strings[i] = f.IPv4Address()
			default:
				out.Strings[i] = f.UserAgent()
			}
		}
	}
	return out
}

func sample(n int, d distuv.Rander) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = d.Rand()
	}
	return out
}

func scaleOrOne(scale float64) float64 {
	if scale == 0 {
		return 1
	}
	return scale
}
