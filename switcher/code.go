package switcher

import "github.com/pkg/errors"

// Fallback suffixes used when a switcher config leaves a code empty.
const (
	DefaultCodeA   = "0010"
	DefaultCodeB   = "1000"
	DefaultCodeC   = "0001"
	DefaultCodeD   = "0100"
	DefaultCodeOn  = "1100"
	DefaultCodeOff = "0011"
)

// CodeConfig is the raw, user supplied set of code suffixes.
type CodeConfig struct {
	Prefix   string `json:"prefix" yaml:"prefix"`
	ChannelA string `json:"channel_a" yaml:"channel_a"`
	ChannelB string `json:"channel_b" yaml:"channel_b"`
	ChannelC string `json:"channel_c" yaml:"channel_c"`
	ChannelD string `json:"channel_d" yaml:"channel_d"`
	On       string `json:"channel_on" yaml:"channel_on"`
	Off      string `json:"channel_off" yaml:"channel_off"`
}

// WithDefaults returns a copy with every empty suffix replaced by its fallback.
// The prefix is left as is.
func (cc CodeConfig) WithDefaults() CodeConfig {
	fill := func(value *string, fallback string) {
		if len(*value) == 0 {
			*value = fallback
		}
	}
	fill(&cc.ChannelA, DefaultCodeA)
	fill(&cc.ChannelB, DefaultCodeB)
	fill(&cc.ChannelC, DefaultCodeC)
	fill(&cc.ChannelD, DefaultCodeD)
	fill(&cc.On, DefaultCodeOn)
	fill(&cc.Off, DefaultCodeOff)
	return cc
}

// Code holds the final, prefixed patterns. It never changes once built.
type Code struct {
	channels [channelCount]string
	on       string
	off      string
}

func NewCode(cc CodeConfig) (Code, error) {
	required := []struct {
		name  string
		value string
	}{
		{"channel_a", cc.ChannelA},
		{"channel_b", cc.ChannelB},
		{"channel_c", cc.ChannelC},
		{"channel_d", cc.ChannelD},
		{"channel_on", cc.On},
		{"channel_off", cc.Off},
	}
	for _, r := range required {
		if len(r.value) == 0 {
			return Code{}, errors.Errorf("code %s is missing", r.name)
		}
	}

	return Code{
		channels: [channelCount]string{
			cc.Prefix + cc.ChannelA,
			cc.Prefix + cc.ChannelB,
			cc.Prefix + cc.ChannelC,
			cc.Prefix + cc.ChannelD,
		},
		on:  cc.Prefix + cc.On,
		off: cc.Prefix + cc.Off,
	}, nil
}

func (c Code) For(ch Channel) string {
	return c.channels[ch]
}

func (c Code) On() string {
	return c.on
}

func (c Code) Off() string {
	return c.off
}
