package atom

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Lang identifies this binding on the wire, reported by the version command.
const Lang = "Go"

// Version is the major.minor version of this binding, reported by the
// version command. Matches the "x.y" convention the original Python and
// other language bindings use so wait_for_elements_healthy-style version
// gates compare consistently across the fleet.
const Version = "1.0"

// Tunable protocol constants. Mirrors atom/config.py's module-level
// constants one for one.
const (
	// DefaultACKTimeout is how long command_send waits for an acknowledge
	// before giving up with NoAck.
	DefaultACKTimeout = 1000 * time.Millisecond

	// DefaultResponseTimeout is the timeout a callee reports in its
	// acknowledge when a command has no per-command timeout registered.
	DefaultResponseTimeout = 1000 * time.Millisecond

	// DefaultStreamLen is the MAXLEN ~ cap applied to every stream append.
	DefaultStreamLen = 1024

	// MaxBlock is "block forever" for a blocking read, expressed as the
	// largest duration the pool will pass through to XREAD/XREADGROUP.
	MaxBlock = 24 * 365 * time.Hour

	// DefaultPipelinePoolSize is the number of pipelines the connection
	// pool keeps in its FIFO queue.
	DefaultPipelinePoolSize = 20

	// DefaultHealthcheckRetryInterval is the sleep between rounds of
	// WaitForElementsHealthy.
	DefaultHealthcheckRetryInterval = 5 * time.Second

	// DefaultRedisPort is used when Config.Host is set and Config.Port
	// is zero.
	DefaultRedisPort = 6379

	// DefaultUnixSocketPath is used when neither Host nor UnixSocketPath
	// is set; Port is then ignored.
	DefaultUnixSocketPath = "/shared/redis.sock"
)

// Reserved command names. A user CommandAdd for any of these fails;
// they are installed by NewElement itself.
const (
	CommandHealthcheck  = "healthcheck"
	CommandVersion      = "version"
	CommandList         = "command_list"
)

var reservedCommands = map[string]struct{}{
	CommandHealthcheck: {},
	CommandVersion:     {},
	CommandList:        {},
}

// Config configures a new Element's connection to the backing server.
// Exactly one of (Host set) or (UnixSocketPath set) is expected; if
// neither is set, it connects over DefaultUnixSocketPath, matching the
// original binding's default.
type Config struct {
	// Host is the backing server's hostname or IP. Mutually exclusive
	// with UnixSocketPath.
	Host string
	// Port is the backing server's TCP port. Defaults to DefaultRedisPort
	// when Host is set and Port is zero.
	Port int
	// UnixSocketPath connects over a Unix domain socket instead of TCP.
	// Mutually exclusive with Host.
	UnixSocketPath string

	// PipelinePoolSize overrides DefaultPipelinePoolSize.
	PipelinePoolSize int

	// Logger is used for the element's local structured logging. If nil,
	// a default JSON logger writing to stdout at Info level is built.
	Logger *slog.Logger
}

func (c Config) addr() (network, addr string) {
	if c.Host == "" {
		if c.UnixSocketPath != "" {
			return "unix", c.UnixSocketPath
		}
		return "unix", DefaultUnixSocketPath
	}
	port := c.Port
	if port == 0 {
		port = DefaultRedisPort
	}
	return "tcp", net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) poolSize() int {
	if c.PipelinePoolSize > 0 {
		return c.PipelinePoolSize
	}
	return DefaultPipelinePoolSize
}
