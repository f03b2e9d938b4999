// Package influxdb records volume control history in InfluxDB.
//
// The Client registers with the vcp service as an Observer and an
// OffsetListener and turns each notification into a point:
//
//	vcp_connection    device, state  -> from, connected
//	vcp_group_volume  group          -> volume, autonomous
//	vcp_offset        device, output -> value
//
// Writes are batched per influxdb.batch_size and influxdb.flush_interval
// and never block the caller.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	svc.AddObserver(client)
//	svc.RegisterCallback(client)
package influxdb
