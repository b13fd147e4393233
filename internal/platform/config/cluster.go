package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Fixed world ranks.
const (
	MasterRank    = 0
	ForkerRank    = 1
	FirstWallRank = 2
)

// Surface is the pixel size of one logical display surface.
type Surface struct {
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// Wall is the part of a surface rendered by one wall process.
type Wall struct {
	Surface int     `mapstructure:"surface"`
	X       float64 `mapstructure:"x"`
	Y       float64 `mapstructure:"y"`
	Width   float64 `mapstructure:"width"`
	Height  float64 `mapstructure:"height"`
}

// Cluster describes every process of a display wall. Processes[r] is the
// mesh listen address of world rank r; Walls[i] belongs to rank i+2.
type Cluster struct {
	Processes   []string  `mapstructure:"processes"`
	Surfaces    []Surface `mapstructure:"surfaces"`
	Walls       []Wall    `mapstructure:"walls"`
	FPS         int       `mapstructure:"fps"`
	ControlAddr string    `mapstructure:"control_addr"`
	SessionDir  string    `mapstructure:"session_dir"`
	LogLevel    string    `mapstructure:"log_level"`
	LogFormat   string    `mapstructure:"log_format"`
}

// LoadCluster reads the cluster file at path, or cluster.yaml from the
// working directory or /etc/wall-controller when path is empty. Scalar keys
// can be overridden with WALL_ environment variables (WALL_FPS,
// WALL_CONTROL_ADDR, ...). Defaults come from the process environment.
func LoadCluster(path string) (*Cluster, error) {
	v := viper.New()

	v.SetDefault("fps", GetEnvInt("FPS", 60))
	v.SetDefault("control_addr", ":"+GetEnv("PORT", "8080"))
	v.SetDefault("session_dir", GetEnv("SESSION_DIR", "sessions"))
	v.SetDefault("log_level", GetEnv("LOG_LEVEL", "info"))
	v.SetDefault("log_format", GetEnv("LOG_FORMAT", "json"))

	v.SetEnvPrefix("WALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cluster")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/wall-controller")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read cluster config")
	}

	var c Cluster
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode cluster config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LocalCluster returns an in-process cluster of walls side by side, each
// rendering a 1920x1080 screen of a single surface.
func LocalCluster(walls int) *Cluster {
	c := &Cluster{
		Processes:   make([]string, FirstWallRank+walls),
		Surfaces:    []Surface{{Width: float64(1920 * walls), Height: 1080}},
		FPS:         GetEnvInt("FPS", 60),
		ControlAddr: ":" + GetEnv("PORT", "8080"),
		SessionDir:  GetEnv("SESSION_DIR", "sessions"),
		LogLevel:    GetEnv("LOG_LEVEL", "info"),
		LogFormat:   GetEnv("LOG_FORMAT", "json"),
	}
	for i := 0; i < walls; i++ {
		c.Walls = append(c.Walls, Wall{X: float64(1920 * i), Width: 1920, Height: 1080})
	}
	return c
}

// Size returns the number of processes.
func (c *Cluster) Size() int { return len(c.Processes) }

// WallCount returns the number of wall processes.
func (c *Cluster) WallCount() int { return len(c.Walls) }

// Role names the role of a world rank.
func (c *Cluster) Role(rank int) string {
	switch {
	case rank == MasterRank:
		return "master"
	case rank == ForkerRank:
		return "forker"
	default:
		return "wall"
	}
}

// Validate checks the cluster layout.
func (c *Cluster) Validate() error {
	if len(c.Processes) < FirstWallRank+1 {
		return errors.Errorf("cluster needs a master, a forker and at least one wall, got %d processes", len(c.Processes))
	}
	if len(c.Walls) != len(c.Processes)-FirstWallRank {
		return errors.Errorf("%d walls configured for %d wall processes", len(c.Walls), len(c.Processes)-FirstWallRank)
	}
	if len(c.Surfaces) == 0 {
		return errors.New("no surfaces configured")
	}
	for i, s := range c.Surfaces {
		if s.Width <= 0 || s.Height <= 0 {
			return errors.Errorf("surface %d has empty size %gx%g", i, s.Width, s.Height)
		}
	}
	for i, w := range c.Walls {
		if w.Surface < 0 || w.Surface >= len(c.Surfaces) {
			return errors.Errorf("wall %d references surface %d", i, w.Surface)
		}
		if w.Width <= 0 || w.Height <= 0 {
			return errors.Errorf("wall %d has an empty screen", i)
		}
	}
	if c.FPS <= 0 {
		return errors.Errorf("fps must be positive, got %d", c.FPS)
	}
	return nil
}
