package kafkasarama

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/YaganovValera/iggy-clients/internal/broker"
	"github.com/YaganovValera/iggy-clients/internal/transport"
)

// Config: transport.kafka.* плюс таймаут ack от кластера.
type Config struct {
	transport.KafkaConfig
	Timeout time.Duration // 5s
}

var (
	acksModes = map[string]sarama.RequiredAcks{
		"all":    sarama.WaitForAll,
		"leader": sarama.WaitForLocal,
		"none":   sarama.NoResponse,
	}
	codecs = map[string]sarama.CompressionCodec{
		"none":   sarama.CompressionNone,
		"gzip":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
		"zstd":   sarama.CompressionZSTD,
	}
)

func (c *Config) applyDefaults() {
	def := func(s *string, v string) {
		if *s == "" {
			*s = v
		}
	}
	def(&c.Version, "2.8.0")
	def(&c.ClientID, "iggy-clients")
	def(&c.Acks, "all")
	def(&c.Compression, "none")
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafkasarama: brokers required")
	}
	_, err := buildSaramaConfig(c, broker.Credentials{})
	return err
}

// buildSaramaConfig: ручной партиционер (партицию выбирает вызывающий),
// синхронный producer, SASL/PLAIN при непустом username.
func buildSaramaConfig(c Config, creds broker.Credentials) (*sarama.Config, error) {
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, fmt.Errorf("kafkasarama: version %q: %w", c.Version, err)
	}
	acks, ok := acksModes[strings.ToLower(c.Acks)]
	if !ok {
		return nil, fmt.Errorf("kafkasarama: acks %q is not one of all|leader|none", c.Acks)
	}
	codec, ok := codecs[strings.ToLower(c.Compression)]
	if !ok {
		return nil, fmt.Errorf("kafkasarama: unknown compression %q", c.Compression)
	}

	sc := sarama.NewConfig()
	sc.ClientID = c.ClientID
	sc.Version = version

	p := &sc.Producer
	p.RequiredAcks = acks
	p.Compression = codec
	p.Timeout = c.Timeout
	p.Partitioner = sarama.NewManualPartitioner
	p.Return.Successes, p.Return.Errors = true, true
	if acks == sarama.WaitForAll && version.IsAtLeast(sarama.V0_11_0_0) {
		p.Idempotent = true
		sc.Net.MaxOpenRequests = 1
	}

	sc.Consumer.Return.Errors = true
	sc.Consumer.MaxWaitTime = 250 * time.Millisecond

	if creds.Username != "" {
		sasl := &sc.Net.SASL
		sasl.Enable = true
		sasl.Mechanism = sarama.SASLTypePlaintext
		sasl.User, sasl.Password = creds.Username, creds.Password
	}
	return sc, nil
}
