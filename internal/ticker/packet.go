package ticker

import (
	"encoding/binary"
	"time"

	feederrors "kitefeed/internal/errors"
	"kitefeed/internal/models"
)

// Exchange segments, encoded in the low byte of an instrument token.
const (
	SegmentNSECM   uint32 = 1
	SegmentNSEFO   uint32 = 2
	SegmentNSECD   uint32 = 3
	SegmentBSECM   uint32 = 4
	SegmentBSEFO   uint32 = 5
	SegmentBSECD   uint32 = 6
	SegmentMCXFO   uint32 = 7
	SegmentMCXSX   uint32 = 8
	SegmentIndices uint32 = 9
)

// Packet lengths for each mode and instrument variant.
const (
	ltpPacketLength        = 8
	quoteIndexPacketLength = 28
	fullIndexPacketLength  = 32
	quotePacketLength      = 44
	fullPacketLength       = 184
)

// ParseBinary decodes a raw binary frame into ticks. A sub-packet with
// an unrecognized length yields a ProtocolError for that packet only;
// the remaining packets are still decoded.
func ParseBinary(data []byte) ([]models.Tick, []error) {
	packets := splitPackets(data)

	var ticks []models.Tick
	var errs []error
	for _, packet := range packets {
		tick, err := parsePacket(packet)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, errs
}

// splitPackets splits a frame into its sub-packets. The first two bytes
// carry the packet count, each packet is preceded by a two byte length.
// A declared length that runs past the buffer ends the split early.
func splitPackets(data []byte) [][]byte {
	if len(data) < 2 {
		return nil
	}

	count := int(binary.BigEndian.Uint16(data[0:2]))
	packets := make([][]byte, 0, count)

	offset := 2
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			break
		}
		length := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2

		if offset+length > len(data) {
			break
		}
		packets = append(packets, data[offset:offset+length])
		offset += length
	}
	return packets
}

// parsePacket decodes a single sub-packet into a tick. The decode path
// is selected purely by packet length.
func parsePacket(data []byte) (models.Tick, error) {
	if len(data) < 4 {
		return models.Tick{}, feederrors.NewProtocolError(len(data), "packet too short")
	}

	token := binary.BigEndian.Uint32(data[0:4])
	segment := token & 0xFF

	tick := models.Tick{
		InstrumentToken: token,
		IsIndex:         segment == SegmentIndices,
		IsTradable:      segment != SegmentIndices,
	}

	switch len(data) {
	case ltpPacketLength:
		tick.Mode = models.ModeLTP
		tick.LastPrice = convertPrice(segment, readUint32(data[4:8]))

	case quoteIndexPacketLength, fullIndexPacketLength:
		tick.Mode = models.ModeQuote
		if len(data) == fullIndexPacketLength {
			tick.Mode = models.ModeFull
		}

		lastPrice := convertPrice(segment, readUint32(data[4:8]))
		closePrice := convertPrice(segment, readUint32(data[20:24]))

		tick.LastPrice = lastPrice
		tick.NetChange = lastPrice - closePrice
		tick.OHLC = models.OHLC{
			High:  convertPrice(segment, readUint32(data[8:12])),
			Low:   convertPrice(segment, readUint32(data[12:16])),
			Open:  convertPrice(segment, readUint32(data[16:20])),
			Close: closePrice,
		}

		if len(data) == fullIndexPacketLength {
			tick.Timestamp = timeFromSeconds(readUint32(data[28:32]))
		}

	case quotePacketLength, fullPacketLength:
		tick.Mode = models.ModeQuote
		if len(data) == fullPacketLength {
			tick.Mode = models.ModeFull
		}

		lastPrice := convertPrice(segment, readUint32(data[4:8]))
		closePrice := convertPrice(segment, readUint32(data[40:44]))

		tick.LastPrice = lastPrice
		tick.LastTradedQuantity = readUint32(data[8:12])
		tick.AverageTradePrice = convertPrice(segment, readUint32(data[12:16]))
		tick.VolumeTraded = readUint32(data[16:20])
		tick.TotalBuyQuantity = readUint32(data[20:24])
		tick.TotalSellQuantity = readUint32(data[24:28])
		tick.NetChange = lastPrice - closePrice
		tick.OHLC = models.OHLC{
			Open:  convertPrice(segment, readUint32(data[28:32])),
			High:  convertPrice(segment, readUint32(data[32:36])),
			Low:   convertPrice(segment, readUint32(data[36:40])),
			Close: closePrice,
		}

		if len(data) == fullPacketLength {
			tick.LastTradeTime = timeFromSeconds(readUint32(data[44:48]))
			tick.OI = readUint32(data[48:52])
			tick.OIDayHigh = readUint32(data[52:56])
			tick.OIDayLow = readUint32(data[56:60])
			tick.Timestamp = timeFromSeconds(readUint32(data[60:64]))
			tick.Depth = parseDepth(segment, data)
		}

	default:
		return models.Tick{}, feederrors.NewProtocolError(len(data), "unknown packet length")
	}

	return tick, nil
}

// parseDepth decodes the five buy and five sell depth levels of a full
// packet. Buy levels start at offset 64, sell levels at 124, twelve
// bytes per level.
func parseDepth(segment uint32, data []byte) models.Depth {
	var depth models.Depth

	buyPos, sellPos := 64, 124
	for i := 0; i < 5; i++ {
		if buyPos+12 <= len(data) {
			depth.Buy[i] = models.DepthItem{
				Quantity: readUint32(data[buyPos : buyPos+4]),
				Price:    convertPrice(segment, readUint32(data[buyPos+4:buyPos+8])),
				Orders:   uint32(readUint16(data[buyPos+8 : buyPos+10])),
			}
			buyPos += 12
		}
		if sellPos+12 <= len(data) {
			depth.Sell[i] = models.DepthItem{
				Quantity: readUint32(data[sellPos : sellPos+4]),
				Price:    convertPrice(segment, readUint32(data[sellPos+4:sellPos+8])),
				Orders:   uint32(readUint16(data[sellPos+8 : sellPos+10])),
			}
			sellPos += 12
		}
	}
	return depth
}

// convertPrice scales a raw integer price to the segment's decimal
// scale. Currency derivatives tick in a hundredth of a paisa.
func convertPrice(segment uint32, value uint32) float64 {
	v := float64(value)
	switch segment {
	case SegmentNSECD:
		return v / 10000000.0
	case SegmentBSECD:
		return v / 10000.0
	default:
		return v / 100.0
	}
}

// timeFromSeconds interprets a raw value as Unix epoch seconds. A raw
// zero means the exchange sent no timestamp.
func timeFromSeconds(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0)
}

func readUint32(data []byte) uint32 {
	if len(data) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(data)
}

func readUint16(data []byte) uint16 {
	if len(data) < 2 {
		return 0
	}
	return binary.BigEndian.Uint16(data)
}
