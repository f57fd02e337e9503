package openbook_v2

import (
	"encoding/binary"
	"fmt"
	"math"

	bin "github.com/gagliardetto/binary"
)

type Side uint8

const (
	Side_Bid Side = iota
	Side_Ask
)

func (value Side) String() string {
	switch value {
	case Side_Bid:
		return "Bid"
	case Side_Ask:
		return "Ask"
	default:
		return ""
	}
}

type PlaceOrderType uint8

const (
	PlaceOrderType_Limit PlaceOrderType = iota
	PlaceOrderType_ImmediateOrCancel
	PlaceOrderType_PostOnly
	PlaceOrderType_Market
	PlaceOrderType_PostOnlySlide
)

type SelfTradeBehavior uint8

const (
	SelfTradeBehavior_DecrementTake SelfTradeBehavior = iota
	SelfTradeBehavior_CancelProvide
	SelfTradeBehavior_AbortTransaction
)

// I80F48 carries the raw bits of the program's fixed point number.
type I80F48 struct {
	Val int64
}

func (obj I80F48) MarshalWithEncoder(encoder *bin.Encoder) error {
	// i128 little endian: low word then sign extension.
	if err := encoder.WriteUint64(uint64(obj.Val), binary.LittleEndian); err != nil {
		return err
	}
	var hi uint64
	if obj.Val < 0 {
		hi = math.MaxUint64
	}
	return encoder.WriteUint64(hi, binary.LittleEndian)
}

func (obj *I80F48) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	lo, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return err
	}
	hi, err := decoder.ReadUint64(binary.LittleEndian)
	if err != nil {
		return err
	}
	if hi != 0 && hi != math.MaxUint64 {
		return fmt.Errorf("i80f48 value does not fit in 64 bits")
	}
	obj.Val = int64(lo)
	return nil
}

type OracleConfigParams struct {
	ConfFilter        float32
	MaxStalenessSlots *uint32
}

func (obj OracleConfigParams) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(math.Float32bits(obj.ConfFilter), binary.LittleEndian); err != nil {
		return err
	}
	if obj.MaxStalenessSlots == nil {
		return encoder.WriteUint8(0)
	}
	if err := encoder.WriteUint8(1); err != nil {
		return err
	}
	return encoder.WriteUint32(*obj.MaxStalenessSlots, binary.LittleEndian)
}

func (obj *OracleConfigParams) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	bits, err := decoder.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	obj.ConfFilter = math.Float32frombits(bits)
	present, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	obj.MaxStalenessSlots = nil
	if present == 1 {
		slots, err := decoder.ReadUint32(binary.LittleEndian)
		if err != nil {
			return err
		}
		obj.MaxStalenessSlots = &slots
	}
	return nil
}

type CreateMarketArgs struct {
	Name         string
	OracleConfig OracleConfigParams
	QuoteLotSize int64
	BaseLotSize  int64
	MakerFee     int64
	TakerFee     int64
	TimeExpiry   int64
}

func (obj CreateMarketArgs) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint32(uint32(len(obj.Name)), binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteBytes([]byte(obj.Name), false); err != nil {
		return err
	}
	if err := obj.OracleConfig.MarshalWithEncoder(encoder); err != nil {
		return err
	}
	for _, v := range []int64{obj.QuoteLotSize, obj.BaseLotSize, obj.MakerFee, obj.TakerFee, obj.TimeExpiry} {
		if err := encoder.WriteInt64(v, binary.LittleEndian); err != nil {
			return err
		}
	}
	return nil
}

func (obj *CreateMarketArgs) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	nameLen, err := decoder.ReadUint32(binary.LittleEndian)
	if err != nil {
		return err
	}
	name, err := decoder.ReadNBytes(int(nameLen))
	if err != nil {
		return err
	}
	obj.Name = string(name)
	if err := obj.OracleConfig.UnmarshalWithDecoder(decoder); err != nil {
		return err
	}
	for _, dst := range []*int64{&obj.QuoteLotSize, &obj.BaseLotSize, &obj.MakerFee, &obj.TakerFee, &obj.TimeExpiry} {
		v, err := decoder.ReadInt64(binary.LittleEndian)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

type PlaceOrderArgs struct {
	Side                      Side
	PriceLots                 int64
	MaxBaseLots               int64
	MaxQuoteLotsIncludingFees int64
	ClientOrderId             uint64
	OrderType                 PlaceOrderType
	ExpiryTimestamp           uint64
	SelfTradeBehavior         SelfTradeBehavior
	Limit                     uint8
}

func (obj PlaceOrderArgs) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(uint8(obj.Side)); err != nil {
		return err
	}
	for _, v := range []int64{obj.PriceLots, obj.MaxBaseLots, obj.MaxQuoteLotsIncludingFees} {
		if err := encoder.WriteInt64(v, binary.LittleEndian); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint64(obj.ClientOrderId, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint8(uint8(obj.OrderType)); err != nil {
		return err
	}
	if err := encoder.WriteUint64(obj.ExpiryTimestamp, binary.LittleEndian); err != nil {
		return err
	}
	if err := encoder.WriteUint8(uint8(obj.SelfTradeBehavior)); err != nil {
		return err
	}
	return encoder.WriteUint8(obj.Limit)
}

func (obj *PlaceOrderArgs) UnmarshalWithDecoder(decoder *bin.Decoder) error {
	side, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	obj.Side = Side(side)
	for _, dst := range []*int64{&obj.PriceLots, &obj.MaxBaseLots, &obj.MaxQuoteLotsIncludingFees} {
		v, err := decoder.ReadInt64(binary.LittleEndian)
		if err != nil {
			return err
		}
		*dst = v
	}
	if obj.ClientOrderId, err = decoder.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	orderType, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	obj.OrderType = PlaceOrderType(orderType)
	if obj.ExpiryTimestamp, err = decoder.ReadUint64(binary.LittleEndian); err != nil {
		return err
	}
	stb, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	obj.SelfTradeBehavior = SelfTradeBehavior(stb)
	obj.Limit, err = decoder.ReadUint8()
	return err
}
