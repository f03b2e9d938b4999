package influxdb

import (
	"strconv"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-vcp/internal/vcp"
)

// Measurement names.
const (
	measurementConnection  = "vcp_connection"
	measurementGroupVolume = "vcp_group_volume"
	measurementOffset      = "vcp_offset"
)

var (
	_ vcp.Observer       = (*Client)(nil)
	_ vcp.OffsetListener = (*Client)(nil)
)

// OnConnectionStateChanged records a device transition.
//
//	vcp_connection,device=AA:BB:CC:DD:EE:01,state=connected from="connecting",connected=true
func (c *Client) OnConnectionStateChanged(device vcp.DeviceAddress, from, to vcp.ConnectionState) {
	c.write(measurementConnection,
		map[string]string{
			"device": device.String(),
			"state":  to.String(),
		},
		map[string]any{
			"from":      from.String(),
			"connected": to == vcp.StateConnected,
		},
	)
}

// OnGroupVolumeChanged records a group volume change.
//
//	vcp_group_volume,group=3 volume=120i,autonomous=false
func (c *Client) OnGroupVolumeChanged(group int32, volume int, autonomous bool) {
	c.write(measurementGroupVolume,
		map[string]string{"group": strconv.FormatInt(int64(group), 10)},
		map[string]any{
			"volume":     volume,
			"autonomous": autonomous,
		},
	)
}

// OnOffsetChanged records an external output offset change. It never
// unregisters itself.
func (c *Client) OnOffsetChanged(device vcp.DeviceAddress, outputID int, value int32) error {
	c.write(measurementOffset,
		map[string]string{
			"device": device.String(),
			"output": strconv.Itoa(outputID),
		},
		map[string]any{"value": value},
	)
	return nil
}

func (c *Client) write(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
