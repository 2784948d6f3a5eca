package switcher

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Channel is one of the four relay outputs of a switcher.
type Channel uint8

const (
	ChannelA Channel = iota
	ChannelB
	ChannelC
	ChannelD
)

const channelCount = 4

// Channels lists every channel in the fixed A, B, C, D order.
var Channels = [channelCount]Channel{ChannelA, ChannelB, ChannelC, ChannelD}

func (ch Channel) String() string {
	switch ch {
	case ChannelA:
		return "a"
	case ChannelB:
		return "b"
	case ChannelC:
		return "c"
	case ChannelD:
		return "d"
	}
	panic(fmt.Sprintf("switcher: invalid channel %d", uint8(ch)))
}

func (ch Channel) mask() uint8 {
	if ch >= channelCount {
		panic(fmt.Sprintf("switcher: invalid channel %d", uint8(ch)))
	}
	return 1 << ch
}

func ParseChannel(s string) (Channel, error) {
	for _, ch := range Channels {
		if strings.EqualFold(s, ch.String()) {
			return ch, nil
		}
	}
	return 0, errors.Errorf("unknown channel %q (want a, b, c or d)", s)
}

// Action addresses all channels at once (ON, OFF) or asks for a resync.
type Action uint8

const (
	ActionOn Action = iota
	ActionOff
	ActionSync
)

var Actions = [...]Action{ActionOn, ActionOff, ActionSync}

func (a Action) String() string {
	switch a {
	case ActionOn:
		return "on"
	case ActionOff:
		return "off"
	case ActionSync:
		return "sync"
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if strings.EqualFold(s, a.String()) {
			return a, nil
		}
	}
	return 0, errors.Errorf("unknown action %q (want on, off or sync)", s)
}
