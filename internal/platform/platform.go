// Package platform provides managed objects describing the Go runtime the
// server runs in.
package platform

import (
	"context"
	"fmt"

	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/server"
)

// Domain holds every platform object.
const Domain = "go.runtime"

var (
	RuntimeName   = objname.MustParse(Domain + ":type=Runtime")
	MemoryName    = objname.MustParse(Domain + ":type=Memory")
	BuildInfoName = objname.MustParse(Domain + ":type=BuildInfo")
)

// Register adds the platform objects to s.
func Register(ctx context.Context, s *server.Server) error {
	objects := []struct {
		name objname.Name
		obj  any
	}{
		{RuntimeName, &Runtime{}},
		{MemoryName, &Memory{}},
		{BuildInfoName, NewBuildInfo()},
	}
	for _, o := range objects {
		if _, err := s.Register(ctx, o.obj, o.name); err != nil {
			return fmt.Errorf("register %s: %w", o.name, err)
		}
	}
	return nil
}
