// Package config implements the Config Store of SPEC_FULL.md §4.8: a
// flat key/value parameter table (one "joint<N>.<param>" entry per
// tunable), persisted as JSON and bootstrapped with defaults when
// storage is empty or unparseable.
package config

import (
	"encoding/json"
	"fmt"

	"github.com/sixar/motion-firmware/internal/motion"
)

// Joints is the number of axes the store tracks parameters for.
const Joints = 6

// Storage abstracts the backing medium, mirroring nvram.Storage's
// shape so both stores can share one file/flash-page implementation.
type Storage interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Defaults mirrors the original firmware's JOINT_CONFIG table: the
// per-axis values a freshly flashed controller starts from.
type Defaults struct {
	PositionFactor  float64
	MaxAccel        float64
	MaxSpeed        float64
	HomingSpeed     float64
	SlowHomingSpeed float64
	JointMin        float64
	JointMax        float64
	HomeOffset      float64
}

var paramNames = []string{
	"positionFactor", "maxAccel", "maxSpeed", "homingSpeed",
	"slowHomingSpeed", "jointMin", "jointMax", "homeOffset",
}

// Store is the Config Store. It holds the full parameter table in
// memory, dirty-checked against the Motion Controller's own cache.
type Store struct {
	storage  Storage
	defaults [Joints]Defaults
	values   map[string]float64
	dirty    bool
}

// New constructs a Store and loads from storage, falling back to
// defaults on any load failure (matching ConfigManager::begin's
// "reset to defaults and save" recovery path).
func New(storage Storage, defaults [Joints]Defaults) *Store {
	s := &Store{storage: storage, defaults: defaults, values: map[string]float64{}}
	if !s.load() {
		s.resetToDefaults()
		_ = s.Save()
	}
	return s
}

func key(joint int, param string) string {
	return fmt.Sprintf("joint%d.%s", joint+1, param)
}

func (s *Store) load() bool {
	raw, err := s.storage.Load()
	if err != nil || len(raw) == 0 {
		return false
	}
	var values map[string]float64
	if err := json.Unmarshal(raw, &values); err != nil {
		return false
	}
	s.values = values
	return true
}

func (s *Store) resetToDefaults() {
	s.values = map[string]float64{}
	for j := 0; j < Joints; j++ {
		d := s.defaults[j]
		s.values[key(j, "positionFactor")] = d.PositionFactor
		s.values[key(j, "maxAccel")] = d.MaxAccel
		s.values[key(j, "maxSpeed")] = d.MaxSpeed
		s.values[key(j, "homingSpeed")] = d.HomingSpeed
		s.values[key(j, "slowHomingSpeed")] = d.SlowHomingSpeed
		s.values[key(j, "jointMin")] = d.JointMin
		s.values[key(j, "jointMax")] = d.JointMax
		s.values[key(j, "homeOffset")] = d.HomeOffset
	}
	s.dirty = true
}

// Save serializes the full table as JSON and writes it.
func (s *Store) Save() error {
	raw, err := json.Marshal(s.values)
	if err != nil {
		return err
	}
	if err := s.storage.Save(raw); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// Dirty reports whether any SetParam call has not yet been persisted.
func (s *Store) Dirty() bool { return s.dirty }

// GetParam returns a raw key's value, or defaultValue if unset.
func (s *Store) GetParam(k string, defaultValue float64) float64 {
	if v, ok := s.values[k]; ok {
		return v
	}
	return defaultValue
}

// SetParam sets a raw key's value and marks the table dirty.
func (s *Store) SetParam(k string, value float64) {
	s.values[k] = value
	s.dirty = true
}

// ListParameters returns every key in the table, for the
// ListParameters command.
func (s *Store) ListParameters() map[string]float64 {
	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// AxisTunables implements motion.ConfigSource, translating the flat
// key/value table into the Motion Controller's typed cache input.
func (s *Store) AxisTunables(axis int) (motion.Tunables, error) {
	if axis < 0 || axis >= Joints {
		return motion.Tunables{}, fmt.Errorf("config: invalid axis %d", axis)
	}
	d := s.defaults[axis]
	return motion.Tunables{
		MaxSpeedDegS:    s.GetParam(key(axis, "maxSpeed"), d.MaxSpeed),
		MaxAccelDegS2:   s.GetParam(key(axis, "maxAccel"), d.MaxAccel),
		HomingSpeedDegS: s.GetParam(key(axis, "homingSpeed"), d.HomingSpeed),
		SlowHomingDegS:  s.GetParam(key(axis, "slowHomingSpeed"), d.SlowHomingSpeed),
		JointMinDeg:     s.GetParam(key(axis, "jointMin"), d.JointMin),
		JointMaxDeg:     s.GetParam(key(axis, "jointMax"), d.JointMax),
		HomeOffsetDeg:   s.GetParam(key(axis, "homeOffset"), d.HomeOffset),
		PositionFactor:  s.GetParam(key(axis, "positionFactor"), d.PositionFactor),
	}, nil
}

// SetHomeOffset is a convenience wrapper over SetParam for the
// SetHomeOffset command.
func (s *Store) SetHomeOffset(axis int, value float64) {
	s.SetParam(key(axis, "homeOffset"), value)
}

// GetHomeOffset is a convenience wrapper over GetParam.
func (s *Store) GetHomeOffset(axis int) float64 {
	d := s.defaults[axis]
	return s.GetParam(key(axis, "homeOffset"), d.HomeOffset)
}

// SetPositionFactor is a convenience wrapper over SetParam.
func (s *Store) SetPositionFactor(axis int, value float64) {
	s.SetParam(key(axis, "positionFactor"), value)
}

// GetPositionFactor is a convenience wrapper over GetParam.
func (s *Store) GetPositionFactor(axis int) float64 {
	d := s.defaults[axis]
	return s.GetParam(key(axis, "positionFactor"), d.PositionFactor)
}

// ParamNames lists the parameter suffixes the store recognizes, in a
// stable order for ListParameters responses.
func ParamNames() []string {
	out := make([]string, len(paramNames))
	copy(out, paramNames)
	return out
}
