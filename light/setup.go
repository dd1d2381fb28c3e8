package light

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/stakelight/stakelight/oracle"
	"github.com/stakelight/stakelight/watcher"
)

// NewHTTPClient initiates an instance of a light client that reaches
// providers and watchers over HTTP.
//
// See all Option(s) for the additional configuration.
// See NewClient.
func NewHTTPClient(
	registryAddr common.Address,
	o oracle.Oracle,
	minStake *uint256.Int,
	watcherAddresses []string,
	options ...Option,
) (*Client, error) {
	watchers, err := watchersFromAddresses(watcherAddresses)
	if err != nil {
		return nil, err
	}
	return NewClient(registryAddr, o, minStake, watchers,
		append([]Option{Providers(HTTPProviders)}, options...)...)
}

func watchersFromAddresses(addrs []string) ([]Watcher, error) {
	watchers := make([]Watcher, len(addrs))
	for idx, address := range addrs {
		w, err := watcher.NewClient(address)
		if err != nil {
			return nil, err
		}
		watchers[idx] = w
	}
	return watchers, nil
}
