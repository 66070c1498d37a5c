package server

import (
	"github.com/zjrosen/beanserver/internal/capability"
	"github.com/zjrosen/beanserver/internal/objname"
	"github.com/zjrosen/beanserver/internal/pubsub"
	"github.com/zjrosen/beanserver/internal/registry"
)

const (
	// SpecificationVersion is the management contract version the server
	// implements.
	SpecificationVersion = "1.0"

	// ImplementationName identifies this server implementation.
	ImplementationName = "beanserver"
)

// DelegateName is the name the server registers its delegate under.
var DelegateName = objname.MustParse(registry.ReservedDomain + ":type=ServerDelegate")

// Delegate describes the server itself and announces registration
// notifications.
type Delegate struct {
	id      string
	version string
	dropped func() uint64
}

func (d *Delegate) GetServerID() string              { return d.id }
func (d *Delegate) GetSpecificationVersion() string  { return SpecificationVersion }
func (d *Delegate) GetImplementationName() string    { return ImplementationName }
func (d *Delegate) GetImplementationVersion() string { return d.version }
func (d *Delegate) GetDroppedNotifications() uint64  { return d.dropped() }

func (d *Delegate) Description() string {
	return "Represents the bean server from the management point of view"
}

func (d *Delegate) NotificationInfo() []capability.NotificationInfo {
	return []capability.NotificationInfo{{
		Name: "registration",
		Types: []string{
			string(pubsub.RegisteredEvent),
			string(pubsub.UnregisteredEvent),
		},
		Description: "Objects registered or unregistered",
	}}
}
