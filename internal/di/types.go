// Package di provides dependency injection wiring and initialization.
//
// The Container is the single source of truth for all service
// instances. It is created by Wire() and handed to the server and the
// scheduler; handlers reach services only through it.
package di

import (
	"github.com/wildcroft/bng-engine/internal/clients/postcodes"
	"github.com/wildcroft/bng-engine/internal/database"
	"github.com/wildcroft/bng-engine/internal/modules/allocation"
	"github.com/wildcroft/bng-engine/internal/modules/geography"
	"github.com/wildcroft/bng-engine/internal/modules/jobs"
	"github.com/wildcroft/bng-engine/internal/modules/reference"
)

// Container holds all dependencies for the application.
type Container struct {
	// Databases
	ReferenceDB *database.DB
	CacheDB     *database.DB

	// Clients
	Geocoder *postcodes.Client

	// Services
	ReferenceStore *reference.Store
	Resolver       *geography.Resolver
	Engine         *allocation.Engine
	Jobs           *jobs.Service
}

// Close releases the container's database handles.
func (c *Container) Close() {
	if c.ReferenceDB != nil {
		_ = c.ReferenceDB.Close()
	}
	if c.CacheDB != nil {
		_ = c.CacheDB.Close()
	}
}
