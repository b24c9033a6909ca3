// Package yaml reads flow definitions: the metadata, token names and service terms of
// the dataset and algorithm a flow publishes.
package yaml

import (
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"gopkg.in/errgo.v2/fmt/errors"
)

type FlowDefinition struct {
	Version   string          `yaml:"version"`
	Dataset   AssetDefinition `yaml:"dataset"`
	Algorithm AssetDefinition `yaml:"algorithm"`
}

type AssetDefinition struct {
	Token    Token           `yaml:"token"`
	Metadata models.Metadata `yaml:"metadata"`
	Service  ServiceTemplate `yaml:"service"`
}

type Token struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
}

type ServiceTemplate struct {
	Type               models.ServiceType `yaml:"type"`
	Name               string             `yaml:"name"`
	Timeout            int64              `yaml:"timeout"`
	DatePublished      string             `yaml:"date_published"`
	Cost               float64            `yaml:"cost"`
	AllowRawAlgorithm  bool               `yaml:"allow_raw_algorithm"`
	AllowNetworkAccess bool               `yaml:"allow_network_access"`
}

func (fd *FlowDefinition) checkRequired() error {
	if err := fd.Dataset.checkRequired(models.DatasetAsset, models.ComputeService); err != nil {
		return err
	}
	if err := fd.Algorithm.checkRequired(models.AlgorithmAsset, models.AccessService); err != nil {
		return err
	}
	if fd.Algorithm.Metadata.Main.Algorithm == nil {
		return errors.New("algorithm metadata must describe its container")
	}
	if fd.Algorithm.Metadata.Main.Algorithm.Container.Image == "" {
		return errors.New("algorithm container image must be set")
	}
	return nil
}

func (ad *AssetDefinition) checkRequired(assetType models.AssetType, serviceType models.ServiceType) error {
	if ad.Token.Name == "" || ad.Token.Symbol == "" {
		return errors.Newf("%s token name and symbol must be set", assetType)
	}
	if ad.Metadata.Main.Type != assetType {
		return errors.Newf("%s metadata has type %q", assetType, ad.Metadata.Main.Type)
	}
	if ad.Metadata.Main.Name == "" {
		return errors.Newf("%s name must be set", assetType)
	}
	if len(ad.Metadata.Main.Files) <= 0 {
		return errors.Newf("%s must reference at least one file", assetType)
	}
	if ad.Service.Type != serviceType {
		return errors.Newf("%s must offer a %s service, got %q", assetType, serviceType, ad.Service.Type)
	}
	if ad.Service.Cost < 0 {
		return errors.Newf("%s service cost must not be negative", assetType)
	}
	return nil
}

// ToService builds the descriptor of the asset's service, created by creator and served
// at endpoint.
func (ad *AssetDefinition) ToService(creator, endpoint string) models.Service {
	service := models.Service{
		Index:           models.DefaultServiceIndex(ad.Service.Type),
		Type:            ad.Service.Type,
		ServiceEndpoint: endpoint,
		Attributes: models.ServiceAttributes{
			Main: models.ServiceMain{
				Name:          ad.Service.Name,
				Creator:       creator,
				Timeout:       ad.Service.Timeout,
				DatePublished: ad.Service.DatePublished,
				Cost:          ad.Service.Cost,
			},
		},
	}
	if ad.Service.Type == models.ComputeService {
		service.Attributes.Privacy = &models.ServicePrivacy{
			AllowRawAlgorithm:          ad.Service.AllowRawAlgorithm,
			AllowNetworkAccess:         ad.Service.AllowNetworkAccess,
			PublisherTrustedAlgorithms: []models.TrustedAlgorithm{},
		}
	}
	return service
}
