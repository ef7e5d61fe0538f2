package defs

// Field names of structured logs, shared by all components
const (
	LabelComponent = "component" // e.g. "Listener", "TCPLineListener"
	LabelPart      = "part"      // sub-part of a component instance, e.g. "connection"

	LabelAddress      = "address"      // bound or upstream address
	LabelClient       = "client"       // peer address of incoming connection
	LabelClientNumber = "clientNumber" // base.ClientNumber assigned at accept
	LabelSecurity     = "security"     // "tcp" or "tls"
)
