package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ba-nh/canmonitor/internal/decode"
)

func TestSignalTableOrderIsFirstSeen(t *testing.T) {
	tbl := NewSignalTable()
	tbl.Set("B", decode.Num(1))
	tbl.Set("A", decode.Num(2))
	tbl.Set("B", decode.Num(3))
	assert.Equal(t, []string{"B", "A"}, tbl.Names())
}

func TestSignalTableSetReportsFreshness(t *testing.T) {
	tbl := NewSignalTable()
	assert.True(t, tbl.Set("X", decode.Num(1)))
	assert.False(t, tbl.Set("X", decode.Num(2)))
}

func TestSignalTableSpeedRequiresAllFourWheels(t *testing.T) {
	tbl := NewSignalTable()
	tbl.Set("WHEEL_SPEED_1", decode.Num(10))
	tbl.Set("WHEEL_SPEED_2", decode.Num(12))
	assert.Equal(t, 0.0, tbl.Speed(), "missing wheels default speed to 0")

	tbl.Set("WHEEL_SPEED_3", decode.Num(8))
	tbl.Set("WHEEL_SPEED_4", decode.Num(10))
	assert.Equal(t, 10.0, tbl.Speed())
}

func TestSignalTableSpeedIgnoresTextualWheelValue(t *testing.T) {
	tbl := NewSignalTable()
	tbl.Set("WHEEL_SPEED_1", decode.Str("fault"))
	tbl.Set("WHEEL_SPEED_2", decode.Num(10))
	tbl.Set("WHEEL_SPEED_3", decode.Num(10))
	tbl.Set("WHEEL_SPEED_4", decode.Num(10))
	assert.Equal(t, 0.0, tbl.Speed())
}

func TestSignalTableCloneIsIndependent(t *testing.T) {
	tbl := NewSignalTable()
	tbl.Set("A", decode.Num(1))
	clone := tbl.Clone()
	clone.Set("B", decode.Num(2))

	assert.Equal(t, []string{"A"}, tbl.Names())
	assert.Equal(t, []string{"A", "B"}, clone.Names())
}
