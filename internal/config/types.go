package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the dev server configuration: the plugins handed through to the
// frontend toolchain and the server.proxy rule table.
type Config struct {
	Plugins []Plugin     `yaml:"plugins" json:"plugins"`
	Server  ServerConfig `yaml:"server"  json:"server"`
}

// ServerConfig holds the dev server settings.
type ServerConfig struct {
	Proxy ProxyTable `yaml:"proxy" json:"proxy"`
}

// Plugin is an opaque capability token. The loader never interprets it.
type Plugin struct {
	Name    string         `yaml:"name"              json:"name"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// UnmarshalYAML accepts either a bare plugin name or a {name, options} mapping.
func (p *Plugin) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Name = node.Value
		return nil
	}
	type plain Plugin
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	*p = Plugin(out)
	return nil
}

// ProxyRule forwards requests whose path starts with Prefix to Target.
type ProxyRule struct {
	Prefix       string `json:"prefix"`
	Target       string `json:"target"`
	ChangeOrigin bool   `json:"changeOrigin,omitempty"`
}

// ProxyTable is the ordered server.proxy rule list. Matching walks it in
// declaration order.
type ProxyTable []ProxyRule

// proxyOptions is the long form of a rule value.
type proxyOptions struct {
	Target       string `yaml:"target"`
	ChangeOrigin bool   `yaml:"changeOrigin"`
}

// UnmarshalYAML decodes the mapping form
//
//	proxy:
//	  /checks: http://localhost:3000
//	  /api:
//	    target: http://localhost:8080
//	    changeOrigin: true
//
// keeping the order the prefixes were written in. Duplicate keys are kept
// so that Validate can report them.
func (t *ProxyTable) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: server.proxy must be a mapping of path prefix to target", node.Line)
	}
	rules := make(ProxyTable, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		rule := ProxyRule{Prefix: key.Value}
		switch value.Kind {
		case yaml.ScalarNode:
			rule.Target = value.Value
		case yaml.MappingNode:
			var opts proxyOptions
			if err := value.Decode(&opts); err != nil {
				return err
			}
			rule.Target = opts.Target
			rule.ChangeOrigin = opts.ChangeOrigin
		default:
			return fmt.Errorf("line %d: server.proxy[%q]: expected a target string or an options mapping", value.Line, key.Value)
		}
		rules = append(rules, rule)
	}
	*t = rules
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	out := Config{
		Plugins: make([]Plugin, len(c.Plugins)),
		Server: ServerConfig{
			Proxy: make(ProxyTable, len(c.Server.Proxy)),
		},
	}
	for i, p := range c.Plugins {
		out.Plugins[i] = Plugin{Name: p.Name}
		if p.Options != nil {
			out.Plugins[i].Options = make(map[string]any, len(p.Options))
			for k, v := range p.Options {
				out.Plugins[i].Options[k] = v
			}
		}
	}
	copy(out.Server.Proxy, c.Server.Proxy)
	return out
}
