// Package randstate gives every stateful entity its own resumable stream of
// random variates.
//
// A stream is a pair of generator engines: a PCG engine for statistical draws
// and a ChaCha8 engine driving the faked-data generator (names, addresses,
// user agents). The pair is serialized into a flat string that entities store
// as an ordinary field, and every draw decodes it, advances it and writes it
// back. No generator is shared between entities, so a draw on one entity can
// never move another entity's position.
package randstate

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/rand/v2"

	"mediasim/internal/simerr"
)

const codecVersion = 1

// State is the decoded generator pair of one stream.
type State struct {
	stats *rand.PCG
	fake  *rand.ChaCha8
}

type encodedState struct {
	Version int    `json:"v"`
	Stats   []byte `json:"stats"`
	Fake    []byte `json:"fake"`
}

// NewState seeds both engines from the same seed.
func NewState(seed int64) *State {
	var key [32]byte
	binary.LittleEndian.PutUint64(key[:8], uint64(seed))
	return &State{
		stats: rand.NewPCG(uint64(seed), uint64(seed)),
		fake:  rand.NewChaCha8(key),
	}
}

// Encode serializes both engine states. Decode(Encode()) resumes the exact
// same sequence.
func (s *State) Encode() (string, error) {
	stats, err := s.stats.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode stats engine: %w", err)
	}
	fake, err := s.fake.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("encode fake engine: %w", err)
	}
	raw, err := json.Marshal(encodedState{Version: codecVersion, Stats: stats, Fake: fake})
	if err != nil {
		return "", fmt.Errorf("encode random state: %w", err)
	}
	return string(raw), nil
}

// Decode parses a blob produced by Encode.
func Decode(blob string) (*State, error) {
	var enc encodedState
	if err := json.Unmarshal([]byte(blob), &enc); err != nil {
		return nil, fmt.Errorf("%w: random state: %v", simerr.ErrInvalidArgument, err)
	}
	if enc.Version != codecVersion {
		return nil, fmt.Errorf("%w: random state version %d", simerr.ErrInvalidArgument, enc.Version)
	}
	st := &State{stats: new(rand.PCG), fake: new(rand.ChaCha8)}
	if err := st.stats.UnmarshalBinary(enc.Stats); err != nil {
		return nil, fmt.Errorf("%w: stats engine: %v", simerr.ErrInvalidArgument, err)
	}
	if err := st.fake.UnmarshalBinary(enc.Fake); err != nil {
		return nil, fmt.Errorf("%w: fake engine: %v", simerr.ErrInvalidArgument, err)
	}
	return st, nil
}
