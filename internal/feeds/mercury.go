package feeds

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"pvimport/internal/models"
)

// InstListChannel publishes the instrument list as ASCII hex of a
// zlib-compressed UTF-8 JSON array.
const InstListChannel = "CS:INSTLIST"

var (
	mercuryIOCs   = []string{"MERCURY_01", "MERCURY_02"}
	mercuryLeaves = []string{"LEVEL:1:HELIUM"}

	// Test and support entries of the instrument list that carry no
	// Mercury hardware.
	mercuryExcluded = map[string]bool{
		"DEMO":    true,
		"MUONFE":  true,
		"SUPPORT": true,
	}
)

// Getter fetches the current value of a channel; production wires the
// channel access client's one-shot read.
type Getter func(channel string) (any, error)

// Mercury expands the instrument list into one synthetic object per
// (instrument, IOC) pair, each owning the helium-level channels of that
// IOC.
type Mercury struct {
	get Getter
}

func NewMercury(get Getter) *Mercury {
	return &Mercury{get: get}
}

func (m *Mercury) Name() string { return "MERCURY" }

func (m *Mercury) ObjectTypeID() uint { return models.TypeMercuryCryostat }

type instrument struct {
	Name     string `json:"name"`
	PVPrefix string `json:"pvPrefix"`
}

func (m *Mercury) instruments() ([]instrument, error) {
	raw, err := m.get(InstListChannel)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", InstListChannel, err)
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return nil, fmt.Errorf("%s payload is %T, want byte string", InstListChannel, raw)
	}

	compressed, err := hex.DecodeString(strings.TrimSpace(text))
	if err != nil {
		return nil, fmt.Errorf("decode %s hex: %w", InstListChannel, err)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("inflate %s: %w", InstListChannel, err)
	}
	defer zr.Close()
	blob, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate %s: %w", InstListChannel, err)
	}

	var all []instrument
	if err := json.Unmarshal(blob, &all); err != nil {
		return nil, fmt.Errorf("parse %s: %w", InstListChannel, err)
	}

	out := all[:0]
	for _, inst := range all {
		if mercuryExcluded[inst.Name] || strings.Contains(inst.Name, "_SETUP") {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}

func (m *Mercury) FullChannelList() ([]string, error) {
	insts, err := m.instruments()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, inst := range insts {
		for _, ioc := range mercuryIOCs {
			for _, leaf := range mercuryLeaves {
				out = append(out, channelName(inst.PVPrefix, ioc, leaf))
			}
		}
	}
	return out, nil
}

func (m *Mercury) PerObjectChannels() (map[string][]string, error) {
	insts, err := m.instruments()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(insts)*len(mercuryIOCs))
	for _, inst := range insts {
		for _, ioc := range mercuryIOCs {
			channels := make([]string, 0, len(mercuryLeaves))
			for _, leaf := range mercuryLeaves {
				channels = append(channels, channelName(inst.PVPrefix, ioc, leaf))
			}
			out[inst.Name+" "+ioc] = channels
		}
	}
	return out, nil
}

func channelName(prefix, ioc, leaf string) string {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return prefix + ioc + ":" + leaf
}
