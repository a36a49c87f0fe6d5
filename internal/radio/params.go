package radio

import (
	"fmt"
	"math"
	"time"

	"tinygo.org/x/drivers/lora"
)

// Params are the LoRa modulation settings of one node.
type Params struct {
	FreqMHz    float64
	BandwidthK float64
	SF         uint8
	// CR is the coding rate denominator, 5..8 for 4/5..4/8.
	CR         uint8
	TxPowerDBm int8
	Preamble   uint16
}

func DefaultParams() Params {
	return Params{
		FreqMHz:    915.0,
		BandwidthK: 250,
		SF:         10,
		CR:         5,
		TxPowerDBm: 20,
		Preamble:   16,
	}
}

func (p Params) Validate() error {
	if p.FreqMHz < 137 || p.FreqMHz > 1020 {
		return fmt.Errorf("radio: frequency %.3f MHz out of range", p.FreqMHz)
	}
	if p.BandwidthK < 7.8 || p.BandwidthK > 500 {
		return fmt.Errorf("radio: bandwidth %.1f kHz out of range", p.BandwidthK)
	}
	if p.SF < 5 || p.SF > 12 {
		return fmt.Errorf("radio: spreading factor %d out of range", p.SF)
	}
	if p.CR < 5 || p.CR > 8 {
		return fmt.Errorf("radio: coding rate %d out of range", p.CR)
	}
	if p.TxPowerDBm < 2 || p.TxPowerDBm > 30 {
		return fmt.Errorf("radio: tx power %d dBm out of range", p.TxPowerDBm)
	}
	return nil
}

// Airtime estimates time on air for an n-byte packet as the driver
// configuration would send it.
func (p Params) Airtime(n int) time.Duration {
	return ConfigAirtime(p.LoraConfig(), n)
}

// LoraConfig maps the params onto a driver configuration with explicit
// header and CRC enabled. Bandwidth snaps up to the next chip setting.
func (p Params) LoraConfig() lora.Config {
	cr := uint8(lora.CodingRate4_5)
	if p.CR > 5 && p.CR <= 8 {
		cr = p.CR - 4
	}
	preamble := p.Preamble
	if preamble == 0 {
		preamble = 8
	}
	cfg := lora.Config{
		Freq:           uint32(p.FreqMHz * 1e6),
		Bw:             bandwidthCode(p.BandwidthK),
		Sf:             p.SF,
		Cr:             cr,
		Ldr:            lora.LowDataRateOptimizeOff,
		Preamble:       preamble,
		SyncWord:       lora.SyncPrivate,
		HeaderType:     lora.HeaderExplicit,
		Crc:            lora.CRCOn,
		Iq:             lora.IQStandard,
		LoraTxPowerDBm: p.TxPowerDBm,
	}
	// chips require low data rate optimization once a symbol exceeds 16ms
	if bw := bandwidthHz(cfg.Bw); p.SF > 0 && math.Pow(2, float64(p.SF))/bw > 0.016 {
		cfg.Ldr = lora.LowDataRateOptimizeOn
	}
	return cfg
}

// ConfigAirtime applies the Semtech time-on-air formula to a driver
// configuration.
func ConfigAirtime(cfg lora.Config, n int) time.Duration {
	bw := bandwidthHz(cfg.Bw)
	if cfg.Sf == 0 {
		return 0
	}
	sf := float64(cfg.Sf)
	tsym := math.Pow(2, sf) / bw
	flag := func(on bool) float64 {
		if on {
			return 1
		}
		return 0
	}
	de := flag(cfg.Ldr == lora.LowDataRateOptimizeOn)
	crc := flag(cfg.Crc == lora.CRCOn)
	ih := flag(cfg.HeaderType == lora.HeaderImplicit)
	cr := math.Max(float64(cfg.Cr), 1)

	tpre := (float64(cfg.Preamble) + 4.25) * tsym
	num := 8*float64(n) - 4*sf + 28 + 16*crc - 20*ih
	den := 4 * (sf - 2*de)
	symbols := 8 + math.Max(math.Ceil(num/den)*(cr+4), 0)
	secs := tpre + symbols*tsym
	return time.Duration(secs * float64(time.Second))
}

var bandwidths = [...]float64{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

func bandwidthHz(code uint8) float64 {
	if int(code) >= len(bandwidths) {
		return bandwidths[len(bandwidths)-1]
	}
	return bandwidths[code]
}

func bandwidthCode(khz float64) uint8 {
	switch {
	case khz <= 7.8:
		return lora.Bandwidth_7_8
	case khz <= 10.4:
		return lora.Bandwidth_10_4
	case khz <= 15.6:
		return lora.Bandwidth_15_6
	case khz <= 20.8:
		return lora.Bandwidth_20_8
	case khz <= 31.25:
		return lora.Bandwidth_31_25
	case khz <= 41.7:
		return lora.Bandwidth_41_7
	case khz <= 62.5:
		return lora.Bandwidth_62_5
	case khz <= 125:
		return lora.Bandwidth_125_0
	case khz <= 250:
		return lora.Bandwidth_250_0
	default:
		return lora.Bandwidth_500_0
	}
}
