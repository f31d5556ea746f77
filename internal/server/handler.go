package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/echod/internal/core/debug"
	"github.com/dcrodman/echod/internal/core/metrics"
	"github.com/dcrodman/echod/internal/message"
)

// handler owns one accepted connection. It reads a single request, answers it
// and closes the connection; nothing else touches the connection meanwhile.
type handler struct {
	connection net.Conn

	logger         *logrus.Logger
	metrics        *metrics.Metrics
	readBufferSize int
	packetLogging  bool
}

// run is the unit of work submitted to the worker pool. Errors stay with this
// connection; they are logged here and never reach the accept loop.
func (h *handler) run() {
	if err := h.handle(); err != nil {
		h.metrics.HandlerErrors.Inc()
		h.logger.Errorf("error handling client %s: %s", h.peer(), err)
	}
}

func (h *handler) handle() error {
	defer h.close()

	h.logger.Debugf("processing message from %s", h.peer())

	buffer := make([]byte, h.readBufferSize)
	bytesRead, err := h.connection.Read(buffer)
	if bytesRead == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			h.logger.Infof("client %s disconnected", h.peer())
			return nil
		}
		return fmt.Errorf("socket error reading from client: %w", err)
	}

	data := buffer[:bytesRead]
	request, err := message.DecodeClientMessage(data)
	if err != nil {
		h.dumpPacket(true, data, nil)
		h.metrics.DecodeErrors.Inc()
		h.logger.Errorf("failed to decode message from %s: %s", h.peer(), err)
		return nil
	}
	h.dumpPacket(true, data, request)
	h.metrics.Requests.WithLabelValues(string(request.Kind())).Inc()

	response := respond(request)
	if response == nil {
		h.logger.Errorf("message from %s carries no request, closing connection", h.peer())
		return nil
	}
	if request.EchoMessage != nil {
		h.logger.Infof("received from %s: %s", h.peer(), request.EchoMessage.Content)
	}

	payload := response.Marshal()
	h.dumpPacket(false, payload, response)
	if _, err := h.connection.Write(payload); err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}

	h.metrics.ResponsesSent.Inc()
	h.logger.Infof("response sent to %s", h.peer())
	return nil
}

// respond builds the reply to request, or returns nil if it doesn't carry one
// of the known variants.
func respond(request *message.ClientMessage) *message.ServerMessage {
	switch {
	case request.EchoMessage != nil:
		return message.NewEchoResponse(request.EchoMessage.Content)
	case request.AddRequest != nil:
		return message.NewAddResponse(request.AddRequest.A + request.AddRequest.B)
	}
	return nil
}

func (h *handler) dumpPacket(clientPacket bool, data []byte, msg interface{}) {
	if !h.packetLogging {
		return
	}

	var sb strings.Builder
	params := debug.PrintPacketParams{
		Writer:       &sb,
		Peer:         h.peer(),
		ClientPacket: clientPacket,
		Data:         data,
		Message:      msg,
	}
	debug.PrintPacket(params)
	h.logger.Debug(sb.String())
}

func (h *handler) close() {
	if err := h.connection.Close(); err != nil {
		h.logger.Warnf("failed to close connection to %s: %s", h.peer(), err)
	}
}

func (h *handler) peer() string {
	return h.connection.RemoteAddr().String()
}
