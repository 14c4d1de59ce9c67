package config

var knownLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrBadPort
	}
	if c.MaxFrameBytes <= 0 {
		return ErrBadFrameSize
	}
	return nil
}

func (c *EngineConfig) Validate() error {
	if c.Shards <= 0 {
		return ErrBadShardCount
	}
	if c.MaxMemoryBytes < 0 {
		return ErrBadMaxMemory
	}
	return nil
}

func (c *LogConfig) Validate() error {
	if !knownLogLevels[c.Level] {
		return ErrBadLogLevel
	}
	return nil
}
