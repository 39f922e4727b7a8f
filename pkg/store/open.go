// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DriverMemory selects the in-memory backend.
const DriverMemory = "memory"

// CarrierSeed describes a carrier row created at startup.
type CarrierSeed struct {
	Name       string `yaml:"name"`
	Domain     string `yaml:"domain"`
	Multimedia bool   `yaml:"multimedia"`
}

// Open returns the backend selected by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemory(), nil
	default:
		s, err := OpenSQL(ctx, driver, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// SeedCarriers creates the given carriers, skipping rows that already exist.
// It returns the number of rows created.
func SeedCarriers(ctx context.Context, dir CarrierDirectory, seeds []CarrierSeed, log *zap.SugaredLogger) (int, error) {
	created := 0
	for _, seed := range seeds {
		c, err := dir.CreateCarrier(ctx, seed.Name, seed.Domain, seed.Multimedia)
		if errors.Is(err, ErrDuplicate) {
			log.Debugw("Carrier already present", "carrier", seed.Name, "domain", seed.Domain)
			continue
		}
		if err != nil {
			return created, err
		}
		log.Infow("Seeded carrier", "id", c.ID, "carrier", c.Name, "domain", c.Domain, "multimedia", c.AllowsMultimedia)
		created++
	}
	return created, nil
}
