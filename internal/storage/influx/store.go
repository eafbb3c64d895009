package influx

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	cfgpkg "github.com/taoyao-code/airq/internal/config"
	"github.com/taoyao-code/airq/internal/coremodel"
)

const (
	fieldPM25 = "pm2_5"
	fieldPM10 = "pm10"
	tagDevice = "device_id"
	tagUnit   = "unit"

	defaultMeasurement = "measurements"
)

// Store InfluxDB v2 读数存储。
// 同一 series（measurement + device_id + unit）同一时间点的写入会覆盖，天然幂等。
type Store struct {
	client      influxdb2.Client
	org         string
	bucket      string
	measurement string
	write       api.WriteAPIBlocking
	query       api.QueryAPI
}

// New 按配置创建客户端
func New(cfg cfgpkg.InfluxConfig) *Store {
	return NewWithClient(influxdb2.NewClient(cfg.URL, cfg.Token), cfg)
}

// NewWithClient 复用已有客户端
func NewWithClient(client influxdb2.Client, cfg cfgpkg.InfluxConfig) *Store {
	m := cfg.Measurement
	if m == "" {
		m = defaultMeasurement
	}
	return &Store{
		client:      client,
		org:         cfg.Org,
		bucket:      cfg.Bucket,
		measurement: m,
		write:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:       client.QueryAPI(cfg.Org),
	}
}

// Backend 后端名称
func (s *Store) Backend() string { return "influx" }

// UpsertReading 以读数时间戳为点时间写入
func (s *Store) UpsertReading(ctx context.Context, r coremodel.Reading) error {
	p := influxdb2.NewPoint(s.measurement,
		map[string]string{tagDevice: r.DeviceID, tagUnit: string(r.Unit)},
		map[string]interface{}{fieldPM25: r.PM25, fieldPM10: r.PM10},
		time.Unix(r.Timestamp, 0))
	if err := s.write.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write point: %w", err)
	}
	return nil
}

// ListReadings since 为零值时返回全部点
func (s *Store) ListReadings(ctx context.Context, since time.Time) ([]coremodel.Reading, error) {
	result, err := s.query.Query(ctx, s.listQuery(since))
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer result.Close()

	var out []coremodel.Reading
	for result.Next() {
		rec := result.Record()
		r, err := toReading(rec.Values(), rec.Time())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	return out, nil
}

// LatestTimestamp 设备最近一个点的时间戳；无数据返回 0
func (s *Store) LatestTimestamp(ctx context.Context, deviceID string) (int64, error) {
	result, err := s.query.Query(ctx, s.latestQuery(deviceID))
	if err != nil {
		return 0, fmt.Errorf("query latest: %w", err)
	}
	defer result.Close()

	var latest int64
	for result.Next() {
		if ts := result.Record().Time().Unix(); ts > latest {
			latest = ts
		}
	}
	return latest, result.Err()
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx ping: not ready")
	}
	return nil
}

// Close 释放客户端
func (s *Store) Close() {
	s.client.Close()
}

func (s *Store) listQuery(since time.Time) string {
	start := time.Unix(0, 0)
	if !since.IsZero() {
		start = since
	}
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == %q)
  |> pivot(rowKey: ["_time"], columnKey: ["_field"], valueColumn: "_value")
  |> group()
  |> sort(columns: ["_time", "device_id"])
`, s.bucket, start.UTC().Format(time.RFC3339), s.measurement)
}

func (s *Store) latestQuery(deviceID string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q and r._field == %q)
  |> last()
`, s.bucket, s.measurement, deviceID, fieldPM25)
}

// toReading pivot 后的一行转换为读数
func toReading(values map[string]interface{}, t time.Time) (coremodel.Reading, error) {
	r := coremodel.Reading{Timestamp: t.Unix()}
	var ok bool
	if r.PM25, ok = values[fieldPM25].(float64); !ok {
		return r, fmt.Errorf("row at %s: missing %s", t.Format(time.RFC3339), fieldPM25)
	}
	if r.PM10, ok = values[fieldPM10].(float64); !ok {
		return r, fmt.Errorf("row at %s: missing %s", t.Format(time.RFC3339), fieldPM10)
	}
	r.DeviceID, _ = values[tagDevice].(string)
	unit, _ := values[tagUnit].(string)
	r.Unit = coremodel.Unit(strings.TrimSpace(unit))
	return r, nil
}
