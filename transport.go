package tunerpc

import "github.com/iovdin/tune-rpc-go/internal/config"

// Transport defines the interface for communicating with the tune-sdk child
// process. The default implementation spawns a subprocess; inject a custom
// one with WithTransport for testing or alternative communication methods.
type Transport = config.Transport
