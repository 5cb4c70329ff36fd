package mqtt5

// ReasonCode is the one-byte result carried by acknowledgements, DISCONNECT
// and AUTH. Values below 0x80 indicate success.
type ReasonCode byte

// Reason codes.
const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2

	ReasonGrantedQoS0 = ReasonSuccess
)

// packetSet is a bitmask of packet types indexed by PacketType.
type packetSet uint32

func packets(types ...PacketType) packetSet {
	var s packetSet
	for _, t := range types {
		s |= 1 << t
	}
	return s
}

func (s packetSet) has(t PacketType) bool {
	return s&(1<<t) != 0
}

type reasonInfo struct {
	name    string
	packets packetSet
}

var (
	pubAcks     = packets(PacketPUBACK, PacketPUBREC)
	connackDisc = packets(PacketCONNACK, PacketDISCONNECT)
	subUnsub    = packets(PacketSUBACK, PacketUNSUBACK)
	allFailures = connackDisc | pubAcks | subUnsub
)

var reasonTable = map[ReasonCode]reasonInfo{
	ReasonSuccess:                    {"Success", packets(PacketCONNACK, PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT, PacketAUTH)},
	ReasonGrantedQoS1:                {"Granted QoS 1", packets(PacketSUBACK)},
	ReasonGrantedQoS2:                {"Granted QoS 2", packets(PacketSUBACK)},
	ReasonDisconnectWithWill:         {"Disconnect with Will Message", packets(PacketDISCONNECT)},
	ReasonNoMatchingSubscribers:      {"No matching subscribers", pubAcks},
	ReasonNoSubscriptionExisted:      {"No subscription existed", packets(PacketUNSUBACK)},
	ReasonContinueAuth:               {"Continue authentication", packets(PacketAUTH)},
	ReasonReAuth:                     {"Re-authenticate", packets(PacketAUTH)},
	ReasonUnspecifiedError:           {"Unspecified error", allFailures},
	ReasonMalformedPacket:            {"Malformed Packet", connackDisc},
	ReasonProtocolError:              {"Protocol Error", connackDisc},
	ReasonImplSpecificError:          {"Implementation specific error", allFailures},
	ReasonUnsupportedProtocolVersion: {"Unsupported Protocol Version", packets(PacketCONNACK)},
	ReasonClientIDNotValid:           {"Client Identifier not valid", packets(PacketCONNACK)},
	ReasonBadUserNameOrPassword:      {"Bad User Name or Password", packets(PacketCONNACK)},
	ReasonNotAuthorized:              {"Not authorized", allFailures},
	ReasonServerUnavailable:          {"Server unavailable", packets(PacketCONNACK)},
	ReasonServerBusy:                 {"Server busy", connackDisc},
	ReasonBanned:                     {"Banned", packets(PacketCONNACK)},
	ReasonServerShuttingDown:         {"Server shutting down", packets(PacketDISCONNECT)},
	ReasonBadAuthMethod:              {"Bad authentication method", packets(PacketCONNACK)},
	ReasonKeepAliveTimeout:           {"Keep Alive timeout", packets(PacketDISCONNECT)},
	ReasonSessionTakenOver:           {"Session taken over", packets(PacketDISCONNECT)},
	ReasonTopicFilterInvalid:         {"Topic Filter invalid", packets(PacketSUBACK, PacketUNSUBACK, PacketDISCONNECT)},
	ReasonTopicNameInvalid:           {"Topic Name invalid", connackDisc | pubAcks},
	ReasonPacketIDInUse:              {"Packet Identifier in use", pubAcks | subUnsub},
	ReasonPacketIDNotFound:           {"Packet Identifier not found", packets(PacketPUBREL, PacketPUBCOMP)},
	ReasonReceiveMaxExceeded:         {"Receive Maximum exceeded", packets(PacketDISCONNECT)},
	ReasonTopicAliasInvalid:          {"Topic Alias invalid", packets(PacketDISCONNECT)},
	ReasonPacketTooLarge:             {"Packet too large", connackDisc},
	ReasonMessageRateTooHigh:         {"Message rate too high", packets(PacketDISCONNECT)},
	ReasonQuotaExceeded:              {"Quota exceeded", connackDisc | pubAcks | packets(PacketSUBACK)},
	ReasonAdminAction:                {"Administrative action", packets(PacketDISCONNECT)},
	ReasonPayloadFormatInvalid:       {"Payload format invalid", connackDisc | pubAcks},
	ReasonRetainNotSupported:         {"Retain not supported", connackDisc},
	ReasonQoSNotSupported:            {"QoS not supported", connackDisc},
	ReasonUseAnotherServer:           {"Use another server", connackDisc},
	ReasonServerMoved:                {"Server moved", connackDisc},
	ReasonSharedSubsNotSupported:     {"Shared Subscriptions not supported", packets(PacketSUBACK, PacketDISCONNECT)},
	ReasonConnectionRateExceeded:     {"Connection rate exceeded", connackDisc},
	ReasonMaxConnectTime:             {"Maximum connect time", packets(PacketDISCONNECT)},
	ReasonSubIDsNotSupported:         {"Subscription Identifiers not supported", packets(PacketSUBACK, PacketDISCONNECT)},
	ReasonWildcardSubsNotSupported:   {"Wildcard Subscriptions not supported", packets(PacketSUBACK, PacketDISCONNECT)},
}

func (r ReasonCode) String() string {
	if info, ok := reasonTable[r]; ok {
		return info.name
	}
	return "Unknown reason code"
}

// IsError reports whether r is a failure code.
func (r ReasonCode) IsError() bool { return r >= 0x80 }

// IsSuccess reports whether r is a non-failure code.
func (r ReasonCode) IsSuccess() bool { return r < 0x80 }

// ValidFor reports whether r may appear in a packet of type t.
func (r ReasonCode) ValidFor(t PacketType) bool {
	info, ok := reasonTable[r]
	return ok && info.packets.has(t)
}
