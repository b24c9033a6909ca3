package models

import (
	"fmt"
	"strings"
)

type AssetType string

const (
	DatasetAsset   AssetType = "dataset"
	AlgorithmAsset AssetType = "algorithm"
)

type ServiceType string

const (
	MetadataService ServiceType = "metadata"
	AccessService   ServiceType = "access"
	ComputeService  ServiceType = "compute"
)

// DefaultServiceIndex returns the index a service of the given type takes in a DDO.
// Indexes follow the provider convention: metadata 0, access 3, compute 4.
func DefaultServiceIndex(serviceType ServiceType) int {
	switch serviceType {
	case MetadataService:
		return 0
	case AccessService:
		return 3
	case ComputeService:
		return 4
	}
	return -1
}

type FileRef struct {
	Url         string `json:"url" yaml:"url"`
	Index       int    `json:"index" yaml:"index"`
	ContentType string `json:"contentType" yaml:"content_type"`
}

type AlgorithmContainer struct {
	Entrypoint string `json:"entrypoint" yaml:"entrypoint"`
	Image      string `json:"image" yaml:"image"`
	Tag        string `json:"tag" yaml:"tag"`
}

type AlgorithmInfo struct {
	Language  string             `json:"language" yaml:"language"`
	Format    string             `json:"format" yaml:"format"`
	Version   string             `json:"version" yaml:"version"`
	Container AlgorithmContainer `json:"container" yaml:"container"`
}

type MainMetadata struct {
	Type        AssetType      `json:"type" yaml:"type"`
	Name        string         `json:"name" yaml:"name"`
	Author      string         `json:"author" yaml:"author"`
	License     string         `json:"license" yaml:"license"`
	DateCreated string         `json:"dateCreated" yaml:"date_created"`
	Files       []FileRef      `json:"files" yaml:"files"`
	Algorithm   *AlgorithmInfo `json:"algorithm,omitempty" yaml:"algorithm,omitempty"`
}

// Metadata is the asset descriptor published for a dataset or an algorithm.
type Metadata struct {
	Main MainMetadata `json:"main" yaml:"main"`
}

type ServiceMain struct {
	Name          string  `json:"name" yaml:"name"`
	Creator       string  `json:"creator" yaml:"creator"`
	Timeout       int64   `json:"timeout" yaml:"timeout"`
	DatePublished string  `json:"datePublished" yaml:"date_published"`
	Cost          float64 `json:"cost" yaml:"cost"`
}

type TrustedAlgorithm struct {
	Did                      string `json:"did"`
	FilesChecksum            string `json:"filesChecksum,omitempty"`
	ContainerSectionChecksum string `json:"containerSectionChecksum,omitempty"`
}

type ServicePrivacy struct {
	AllowRawAlgorithm          bool               `json:"allowRawAlgorithm"`
	AllowNetworkAccess         bool               `json:"allowNetworkAccess"`
	PublisherTrustedAlgorithms []TrustedAlgorithm `json:"publisherTrustedAlgorithms"`
}

type ServiceAttributes struct {
	Main    ServiceMain     `json:"main"`
	Privacy *ServicePrivacy `json:"privacy,omitempty"`
}

// Service describes one access or compute offering attached to an asset.
type Service struct {
	Index           int               `json:"index"`
	Type            ServiceType       `json:"type"`
	ServiceEndpoint string            `json:"serviceEndpoint"`
	Attributes      ServiceAttributes `json:"attributes"`
}

type DDO struct {
	Did       string    `json:"id"`
	Created   string    `json:"created"`
	Updated   string    `json:"updated,omitempty"`
	Publisher string    `json:"publisher"`
	DataToken string    `json:"dataToken"`
	ChainId   int64     `json:"chainId"`
	Metadata  Metadata  `json:"metadata"`
	Services  []Service `json:"service"`
	Proof     *Proof    `json:"proof,omitempty"`
}

type Proof struct {
	Type           string `json:"type"`
	Created        string `json:"created"`
	Creator        string `json:"creator"`
	SignatureValue string `json:"signatureValue"`
}

func (d *DDO) GetService(serviceType ServiceType) (*Service, error) {
	for i := range d.Services {
		if d.Services[i].Type == serviceType {
			return &d.Services[i], nil
		}
	}
	return nil, fmt.Errorf("asset %s has no %s service", d.Did, serviceType)
}

func (d *DDO) ServiceByIndex(index int) (*Service, error) {
	for i := range d.Services {
		if d.Services[i].Index == index {
			return &d.Services[i], nil
		}
	}
	return nil, fmt.Errorf("asset %s has no service at index %d", d.Did, index)
}

// AddTrustedAlgorithm registers algorithmDid on the compute service of the asset.
// Adding an already trusted algorithm is a no-op.
func (d *DDO) AddTrustedAlgorithm(algorithmDid string) error {
	service, err := d.GetService(ComputeService)
	if err != nil {
		return err
	}
	if service.Attributes.Privacy == nil {
		service.Attributes.Privacy = &ServicePrivacy{}
	}
	for _, ta := range service.Attributes.Privacy.PublisherTrustedAlgorithms {
		if strings.EqualFold(ta.Did, algorithmDid) {
			return nil
		}
	}
	service.Attributes.Privacy.PublisherTrustedAlgorithms = append(service.Attributes.Privacy.PublisherTrustedAlgorithms,
		TrustedAlgorithm{Did: algorithmDid})
	return nil
}

func (d *DDO) TrustsAlgorithm(algorithmDid string) bool {
	service, err := d.GetService(ComputeService)
	if err != nil || service.Attributes.Privacy == nil {
		return false
	}
	for _, ta := range service.Attributes.Privacy.PublisherTrustedAlgorithms {
		if strings.EqualFold(ta.Did, algorithmDid) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so stored descriptors stay immutable once published.
func (d *DDO) Clone() *DDO {
	out := *d
	out.Metadata.Main.Files = append([]FileRef(nil), d.Metadata.Main.Files...)
	if d.Metadata.Main.Algorithm != nil {
		algo := *d.Metadata.Main.Algorithm
		out.Metadata.Main.Algorithm = &algo
	}
	out.Services = make([]Service, len(d.Services))
	for i, s := range d.Services {
		out.Services[i] = s
		if s.Attributes.Privacy != nil {
			privacy := *s.Attributes.Privacy
			privacy.PublisherTrustedAlgorithms = append([]TrustedAlgorithm(nil), s.Attributes.Privacy.PublisherTrustedAlgorithms...)
			out.Services[i].Attributes.Privacy = &privacy
		}
	}
	if d.Proof != nil {
		proof := *d.Proof
		out.Proof = &proof
	}
	return &out
}
