package comm

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	EnvRank  = "QCHAIN_RANK"
	EnvSize  = "QCHAIN_SIZE"
	EnvAddrs = "QCHAIN_ADDRS"
)

var (
	// rankVars and sizeVars are tried in order, covering launchers other than our own.
	rankVars = []string{EnvRank, "OMPI_COMM_WORLD_RANK", "PMI_RANK"}
	sizeVars = []string{EnvSize, "OMPI_COMM_WORLD_SIZE", "PMI_SIZE"}
)

// Environ is a participant's identity as handed down by the launcher.
type Environ struct {
	Rank  int
	Size  int
	Addrs []string
}

// Discover reads the participant identity through lookup, usually os.LookupEnv.
// Without any launcher variables the participant runs alone as rank 0 of 1.
// When no address list is given, rank i listens on host:basePort+i.
func Discover(lookup func(string) (string, bool), host string, basePort int) (Environ, error) {
	rank, rankOK, err := lookupInt(lookup, rankVars)
	if err != nil {
		return Environ{}, errors.Wrap(err, "")
	}
	size, sizeOK, err := lookupInt(lookup, sizeVars)
	if err != nil {
		return Environ{}, errors.Wrap(err, "")
	}
	switch {
	case !rankOK && !sizeOK:
		return Environ{Rank: 0, Size: 1}, nil
	case !rankOK || !sizeOK:
		return Environ{}, errors.Errorf("rank set %t, size set %t", rankOK, sizeOK)
	}
	if size < 1 || rank < 0 || rank >= size {
		return Environ{}, errors.Errorf("rank %d size %d", rank, size)
	}

	env := Environ{Rank: rank, Size: size}
	if s, ok := lookup(EnvAddrs); ok && s != "" {
		env.Addrs = strings.Split(s, ",")
	} else {
		env.Addrs = Addrs(host, basePort, size)
	}
	if len(env.Addrs) != size {
		return Environ{}, errors.Errorf("%d addresses for %d ranks", len(env.Addrs), size)
	}
	return env, nil
}

// Addrs returns the listening address of each rank.
func Addrs(host string, basePort, size int) []string {
	addrs := make([]string, 0, size)
	for rank := range size {
		addrs = append(addrs, net.JoinHostPort(host, strconv.Itoa(basePort+rank)))
	}
	return addrs
}

// Vars returns the variables that make Discover reproduce env in a child process.
func (env Environ) Vars() []string {
	return []string{
		EnvRank + "=" + strconv.Itoa(env.Rank),
		EnvSize + "=" + strconv.Itoa(env.Size),
		EnvAddrs + "=" + strings.Join(env.Addrs, ","),
	}
}

// Connect joins the runtime described by env.
func (env Environ) Connect(ctx context.Context) (*Endpoint, error) {
	if env.Size == 1 {
		return NewWorld(1)[0], nil
	}
	ep, err := DialTCP(ctx, env.Rank, env.Addrs)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	return ep, nil
}

func lookupInt(lookup func(string) (string, bool), keys []string) (int, bool, error) {
	for _, k := range keys {
		s, ok := lookup(k)
		if !ok || s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return 0, false, errors.Wrap(err, k)
		}
		return v, true, nil
	}
	return 0, false, nil
}
