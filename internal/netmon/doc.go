// Package netmon provides reference platform monitors: a network monitor
// that polls the host's interfaces and a proxy monitor that follows the
// proxy environment variables.
//
// Real deployments plug in OS-specific monitors; these exist so the CLI can
// drive an engine on a plain host and so the event flow can be tested with a
// scripted Lister.
package netmon
