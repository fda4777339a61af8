package probe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakeRunner(outputs map[string]string, failing string) Runner {
	return func(_ context.Context, name string, args ...string) (string, error) {
		cmd := strings.Join(append([]string{name}, args...), " ")
		if cmd == failing {
			return "", errors.New("exit status 1")
		}
		return outputs[cmd], nil
	}
}

func TestX11Observe(t *testing.T) {
	run := fakeRunner(map[string]string{
		"xdotool getactivewindow getwindowpid":  "4242",
		"xdotool getactivewindow getwindowname": "Inbox - Mail",
		"xprintidle":                            "181000",
	}, "")
	var gotPID int32
	x := NewX11(run, func(_ context.Context, pid int32) (string, error) {
		gotPID = pid
		return "thunderbird", nil
	})

	obs, err := x.Observe(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(4242), gotPID)
	require.Equal(t, Observation{AppName: "thunderbird", WindowTitle: "Inbox - Mail", IdleFor: 181 * time.Second}, obs)
}

func TestX11ObserveWithoutDisplay(t *testing.T) {
	x := NewX11(fakeRunner(nil, "xdotool getactivewindow getwindowpid"), nil)
	_, err := x.Observe(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestX11ObserveRejectsGarbage(t *testing.T) {
	x := NewX11(fakeRunner(map[string]string{"xdotool getactivewindow getwindowpid": "n/a"}, ""), nil)
	_, err := x.Observe(context.Background())
	require.Error(t, err)
}
