package debug

import (
	"fmt"

	"github.com/dcrodman/echod/internal/message"
)

// messageName returns the schema name of the variant carried by msg, which is
// easier to scan for in a dump than the Go type.
func messageName(msg interface{}) string {
	switch m := msg.(type) {
	case *message.ClientMessage:
		return "ClientMessage." + variantName(m.Kind(), "AddRequest")
	case *message.ServerMessage:
		return "ServerMessage." + variantName(m.Kind(), "AddResponse")
	case nil:
		return "(undecoded)"
	}
	return fmt.Sprintf("%T", msg)
}

func variantName(kind message.Kind, addName string) string {
	switch kind {
	case message.KindEcho:
		return "EchoMessage"
	case message.KindAdd:
		return addName
	}
	return "(empty)"
}
