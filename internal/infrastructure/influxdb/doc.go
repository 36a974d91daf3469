// Package influxdb writes Nuki lock telemetry to InfluxDB v2.
//
// The bridge calls WriteLockState whenever a lock's state is confirmed by
// a refresh or its availability changes, giving a history of lock position
// and battery warnings per entity. Bridge reachability counters are written
// with WriteBridgeStats on the health interval.
//
// Writes are non-blocking and batched according to config.yaml
// (batch_size, flush_interval). Failures surface through SetOnError.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLockState("lock.front_door", 42, true, true, false, time.Now())
package influxdb
