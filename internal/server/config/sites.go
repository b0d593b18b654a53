package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SiteFile is the on-disk description of the site address table used to
// attribute transfers to sites.
//
//	sites:
//	  - name: TACC
//	    hosts: [129.114.60.10, 129.114.60.11]
type SiteFile struct {
	Sites []Site `yaml:"sites"`
}

type Site struct {
	Name  string   `yaml:"name"`
	Hosts []string `yaml:"hosts"`
}

// LoadSiteFile reads and validates a site file.
func LoadSiteFile(path string) ([]Site, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}
	return ParseSites(data)
}

// ParseSites decodes a site file. Site names must be unique and every site
// needs at least one host.
func ParseSites(data []byte) ([]Site, error) {
	var f SiteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse site file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range f.Sites {
		s := &f.Sites[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, fmt.Errorf("site %d: missing name", i+1)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("site %q: listed more than once", s.Name)
		}
		seen[s.Name] = true

		hosts := s.Hosts[:0]
		for _, h := range s.Hosts {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		if len(hosts) == 0 {
			return nil, fmt.Errorf("site %q: no hosts", s.Name)
		}
		s.Hosts = hosts
	}

	if len(f.Sites) == 0 {
		return nil, fmt.Errorf("site file lists no sites")
	}
	return f.Sites, nil
}
