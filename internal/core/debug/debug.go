package debug

import (
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
)

// StartUtilities spins off the services associated with debug mode.
func StartUtilities(logger *logrus.Logger, pprofAddr string) {
	startPprofServer(logger, pprofAddr)
}

// This function starts the default pprof HTTP server that can be accessed via localhost
// to get runtime information about the server. See https://golang.org/pkg/net/http/pprof/
func startPprofServer(logger *logrus.Logger, listenerAddr string) {
	logger.Infof("starting pprof server on %s", listenerAddr)

	go func() {
		if err := http.ListenAndServe(listenerAddr, nil); err != nil {
			logger.Infof("error starting pprof server: %s", err)
		}
	}()
}

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

type PrintPacketParams struct {
	Writer io.Writer
	// Remote address of the connection the packet belongs to.
	Peer string
	// True if the packet was sent by the client, false if sent by the server.
	ClientPacket bool
	Data         []byte
	// Decoded form of Data, if it could be decoded.
	Message interface{}
}

// PrintPacket writes a human readable dump of a packet: the direction, a hex
// dump of the raw bytes and the decoded message.
func PrintPacket(params PrintPacketParams) {
	source, destination := "server", params.Peer
	if params.ClientPacket {
		source, destination = params.Peer, "server"
	}

	fmt.Fprintf(params.Writer, "[%s -> %s] %s (%d bytes)\n",
		source, destination, messageName(params.Message), len(params.Data))
	fmt.Fprint(params.Writer, hex.Dump(params.Data))
	if params.Message != nil {
		dumper.Fdump(params.Writer, params.Message)
	}
}
