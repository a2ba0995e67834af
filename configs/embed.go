package configs

import "embed"

// ConstructDefaults contains the shipped construct identity files.
//
//go:embed constructs/*.yaml
var ConstructDefaults embed.FS

// SeatDefaults is the shipped seat to model mapping, written out on first run.
//
//go:embed seats.yaml
var SeatDefaults []byte
