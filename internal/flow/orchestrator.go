// Package flow runs the full compute-to-data flow: tokens, publication, trust,
// payment, the compute job and the published result artifact.
package flow

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/lagrangedao/go-c2d-flow/artifact"
	"github.com/lagrangedao/go-c2d-flow/compute"
	"github.com/lagrangedao/go-c2d-flow/conf"
	"github.com/lagrangedao/go-c2d-flow/internal/models"
	"github.com/lagrangedao/go-c2d-flow/ledger"
	"github.com/lagrangedao/go-c2d-flow/storage"
	"github.com/lagrangedao/go-c2d-flow/wallet"
	"github.com/lagrangedao/go-c2d-flow/yaml"
	"golang.org/x/xerrors"
)

var ErrServiceIndexMismatch = compute.ErrServiceIndexMismatch

// Settings are the per-run parameters of a flow.
type Settings struct {
	Publisher      string
	Consumer       string
	MintAmount     *big.Int
	TransferAmount *big.Int
	Container      string
	ScratchDir     string
	Poll           compute.PollPolicy
}

func SettingsFromConfig(cfg *conf.FlowNode) (Settings, error) {
	mint, err := wallet.ConvertToWei(cfg.FLOW.MintAmount)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid mint amount: %+v", err)
	}
	transfer, err := wallet.ConvertToWei(cfg.FLOW.TransferAmount)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid transfer amount: %+v", err)
	}
	return Settings{
		Publisher:      cfg.IDENTITY.Publisher,
		Consumer:       cfg.IDENTITY.Consumer,
		MintAmount:     mint,
		TransferAmount: transfer,
		Container:      cfg.STORAGE.Container,
		ScratchDir:     cfg.STORAGE.ScratchDir,
		Poll: compute.PollPolicy{
			Interval:    cfg.FLOW.PollInterval.Duration,
			MaxInterval: cfg.FLOW.PollMaxInterval.Duration,
			Multiplier:  cfg.FLOW.PollMultiplier,
			MaxAttempts: cfg.FLOW.PollAttempts,
			Timeout:     cfg.FLOW.PollTimeout.Duration,
		},
	}, nil
}

func (s Settings) validate() error {
	if !wallet.IsAddress(s.Publisher) || !wallet.IsAddress(s.Consumer) {
		return xerrors.Errorf("publisher %q and consumer %q must be addresses", s.Publisher, s.Consumer)
	}
	if s.MintAmount == nil || s.TransferAmount == nil || s.MintAmount.Sign() <= 0 || s.TransferAmount.Sign() <= 0 {
		return xerrors.New("mint and transfer amounts must be positive")
	}
	if s.TransferAmount.Cmp(s.MintAmount) > 0 {
		return xerrors.New("transfer amount exceeds the minted supply")
	}
	if s.Container == "" {
		return xerrors.New("artifact container must be set")
	}
	return nil
}

// EndpointResolver advertises where a service type is served.
type EndpointResolver interface {
	ServiceEndpoint(serviceType models.ServiceType) string
}

// StaticEndpoints serves every service from paths under one base URL.
type StaticEndpoints string

func (s StaticEndpoints) ServiceEndpoint(serviceType models.ServiceType) string {
	return strings.TrimRight(string(s), "/") + "/api/v1/services/" + string(serviceType)
}

type Orchestrator struct {
	settings   Settings
	definition *yaml.FlowDefinition
	ledger     ledger.Client
	backend    compute.Backend
	store      storage.ArtifactStore
	identities IdentitySource
	endpoints  EndpointResolver
	locks      *IdentityLocks
	progress   func(models.FlowEvent)
}

type Option func(*Orchestrator)

func WithProgress(progress func(models.FlowEvent)) Option {
	return func(o *Orchestrator) {
		o.progress = progress
	}
}

func WithIdentityLocks(locks *IdentityLocks) Option {
	return func(o *Orchestrator) {
		o.locks = locks
	}
}

func WithDefinition(definition *yaml.FlowDefinition) Option {
	return func(o *Orchestrator) {
		o.definition = definition
	}
}

func NewOrchestrator(settings Settings, l ledger.Client, backend compute.Backend, store storage.ArtifactStore,
	identities IdentitySource, endpoints EndpointResolver, options ...Option) (*Orchestrator, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		settings:   settings,
		ledger:     l,
		backend:    backend,
		store:      store,
		identities: identities,
		endpoints:  endpoints,
	}
	for _, option := range options {
		option(o)
	}
	if o.definition == nil {
		definition, err := yaml.DefaultFlow()
		if err != nil {
			return nil, err
		}
		o.definition = definition
	}
	if o.locks == nil {
		o.locks = NewIdentityLocks()
	}
	return o, nil
}

func (o *Orchestrator) emit(step models.FlowStep, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logs.GetLogger().Infof("[%s] %s", step, msg)
	if o.progress != nil {
		o.progress(models.FlowEvent{Step: step, Message: msg, Time: time.Now()})
	}
}

type asset struct {
	definition  *yaml.AssetDefinition
	serviceType models.ServiceType
	token       string
	ddo         *models.DDO
	receipt     *models.OrderReceipt
}

// Run executes one full flow. Ledger mutations are never rolled back: when a step
// fails, the returned result still carries every identifier created so far.
func (o *Orchestrator) Run(ctx context.Context) (*models.FlowResult, error) {
	unlock := o.locks.Lock(o.settings.Publisher, o.settings.Consumer)
	defer unlock()

	publisher, err := o.identities.Identity(ctx, o.settings.Publisher)
	if err != nil {
		return nil, xerrors.Errorf("resolve publisher: %w", err)
	}
	consumer, err := o.identities.Identity(ctx, o.settings.Consumer)
	if err != nil {
		return nil, xerrors.Errorf("resolve consumer: %w", err)
	}

	result := &models.FlowResult{}
	dataset := &asset{definition: &o.definition.Dataset, serviceType: models.ComputeService}
	algorithm := &asset{definition: &o.definition.Algorithm, serviceType: models.AccessService}
	defer recordIdentifiers(result, dataset, algorithm)

	for _, a := range []*asset{dataset, algorithm} {
		if err := o.mint(ctx, a, publisher); err != nil {
			return result, err
		}
	}

	for _, a := range []*asset{dataset, algorithm} {
		if err := o.publish(ctx, a, publisher); err != nil {
			return result, err
		}
	}

	o.emit(models.StepTrust, "trusting algorithm %s on %s", algorithm.ddo.Did, dataset.ddo.Did)
	if err := dataset.ddo.AddTrustedAlgorithm(algorithm.ddo.Did); err != nil {
		return result, err
	}
	if err := o.ledger.UpdateAsset(ctx, dataset.ddo, publisher); err != nil {
		return result, xerrors.Errorf("update dataset %s: %w", dataset.ddo.Did, err)
	}

	for _, a := range []*asset{dataset, algorithm} {
		o.emit(models.StepTransfer, "transferring %s of %s to %s", wallet.FormatEther(o.settings.TransferAmount), a.token, consumer)
		if err := o.ledger.Transfer(ctx, a.token, consumer.Hex(), o.settings.TransferAmount, publisher); err != nil {
			return result, xerrors.Errorf("transfer %s: %w", a.token, err)
		}
	}

	for _, a := range []*asset{dataset, algorithm} {
		if err := o.pay(ctx, a, consumer); err != nil {
			return result, err
		}
	}

	jobId, err := o.submit(ctx, dataset, algorithm, consumer)
	if err != nil {
		return result, err
	}
	result.JobId = jobId

	o.emit(models.StepPoll, "waiting for job %s", jobId)
	status, err := compute.WaitForJob(ctx, o.backend, dataset.ddo.Did, jobId, consumer, o.settings.Poll,
		func(s models.JobStatus) { o.emit(models.StepPoll, "job %s: %s", jobId, s) })
	if status != nil {
		result.JobStatus = *status
	}
	if err != nil {
		return result, err
	}

	if err := o.publishResult(ctx, result, dataset.ddo.Did, consumer); err != nil {
		return result, err
	}
	o.emit(models.StepCompleted, "%s", result.Summary())
	return result, nil
}

// recordIdentifiers copies what the ledger created so far into the result.
func recordIdentifiers(result *models.FlowResult, dataset, algorithm *asset) {
	result.DatasetToken, result.AlgorithmToken = dataset.token, algorithm.token
	if dataset.ddo != nil {
		result.DatasetDid = dataset.ddo.Did
	}
	if algorithm.ddo != nil {
		result.AlgorithmDid = algorithm.ddo.Did
	}
	if dataset.receipt != nil {
		result.DatasetOrderTx = dataset.receipt.TxId
	}
	if algorithm.receipt != nil {
		result.AlgorithmOrderTx = algorithm.receipt.TxId
	}
}

func (o *Orchestrator) mint(ctx context.Context, a *asset, publisher *wallet.Identity) error {
	o.emit(models.StepMint, "creating datatoken %s", a.definition.Token.Symbol)
	token, err := o.ledger.CreateDataToken(ctx, a.definition.Token.Name, a.definition.Token.Symbol, publisher)
	if err != nil {
		return err
	}
	a.token = token
	if err := o.ledger.Mint(ctx, token, publisher.Hex(), o.settings.MintAmount, publisher); err != nil {
		return xerrors.Errorf("mint %s: %w", token, err)
	}
	o.emit(models.StepMint, "minted %s %s to %s", wallet.FormatEther(o.settings.MintAmount), a.definition.Token.Symbol, publisher)
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, a *asset, publisher *wallet.Identity) error {
	service := a.definition.ToService(publisher.Hex(), o.endpoints.ServiceEndpoint(a.serviceType))
	ddo, err := o.ledger.CreateAsset(ctx, a.definition.Metadata, []models.Service{service}, a.token, publisher)
	if err != nil {
		return xerrors.Errorf("publish %s: %w", a.definition.Metadata.Main.Name, err)
	}
	a.ddo = ddo
	o.emit(models.StepPublish, "published %s as %s", a.definition.Metadata.Main.Name, ddo.Did)
	return nil
}

func (o *Orchestrator) pay(ctx context.Context, a *asset, consumer *wallet.Identity) error {
	resolved, err := o.ledger.ResolveAsset(ctx, a.ddo.Did)
	if err != nil {
		return err
	}
	service, err := resolved.GetService(a.serviceType)
	if err != nil {
		return xerrors.Errorf("%s: %w", err.Error(), ledger.ErrServiceNotFound)
	}

	requirements, err := o.ledger.Order(ctx, a.ddo.Did, consumer.Hex(), a.serviceType)
	if err != nil {
		return xerrors.Errorf("order %s: %w", a.ddo.Did, err)
	}
	receipt, err := o.ledger.PayForService(ctx, requirements, a.ddo.Did, service.Index, consumer)
	if err != nil {
		return xerrors.Errorf("pay for %s: %w", a.ddo.Did, err)
	}
	a.receipt = receipt
	o.emit(models.StepPay, "paid %s service %d of %s, tx %s", a.serviceType, service.Index, a.ddo.Did, receipt.TxId)
	return nil
}

// checkReceipt verifies the receipt pays for the service the job is about to use.
func (o *Orchestrator) checkReceipt(ctx context.Context, a *asset) (int, error) {
	resolved, err := o.ledger.ResolveAsset(ctx, a.ddo.Did)
	if err != nil {
		return 0, err
	}
	service, err := resolved.GetService(a.serviceType)
	if err != nil {
		return 0, xerrors.Errorf("%s: %w", err.Error(), ErrServiceIndexMismatch)
	}
	r := a.receipt
	if r == nil || r.Did != a.ddo.Did || r.ServiceType != a.serviceType || r.ServiceIndex != service.Index {
		return 0, xerrors.Errorf("%s %s service is at index %d: %w", a.ddo.Did, a.serviceType, service.Index, ErrServiceIndexMismatch)
	}
	return service.Index, nil
}

func (o *Orchestrator) submit(ctx context.Context, dataset, algorithm *asset, consumer *wallet.Identity) (string, error) {
	datasetIndex, err := o.checkReceipt(ctx, dataset)
	if err != nil {
		return "", err
	}
	algorithmIndex, err := o.checkReceipt(ctx, algorithm)
	if err != nil {
		return "", err
	}

	inputs := []models.ComputeInput{{Did: dataset.ddo.Did, TransferTxId: dataset.receipt.TxId, ServiceIndex: datasetIndex}}
	algo := models.AlgorithmRef{
		Did:          algorithm.ddo.Did,
		TransferTxId: algorithm.receipt.TxId,
		DataToken:    algorithm.token,
		ServiceIndex: algorithmIndex,
	}
	jobId, err := o.backend.Start(ctx, inputs, algo, consumer)
	if err != nil {
		return "", xerrors.Errorf("start compute on %s: %w", dataset.ddo.Did, err)
	}
	o.emit(models.StepSubmit, "started job %s", jobId)
	return jobId, nil
}

func (o *Orchestrator) publishResult(ctx context.Context, result *models.FlowResult, did string, consumer *wallet.Identity) error {
	data, err := o.backend.ResultFile(ctx, did, result.JobId, 0, consumer)
	if err != nil {
		return xerrors.Errorf("fetch result of job %s: %w", result.JobId, err)
	}

	xs, ys := artifact.DefaultGrid()
	model, err := artifact.DecodeModel(data, len(ys), len(xs))
	if err != nil {
		return err
	}
	reference := artifact.BraninGrid(xs, ys)
	if result.ModelRMSE, err = artifact.RMSE(model, reference); err != nil {
		return err
	}
	png, err := artifact.RenderComparison(xs, ys, model, reference)
	if err != nil {
		return err
	}

	name := artifact.NewArtifactName()
	localPath, err := artifact.WriteArtifact(o.settings.ScratchDir, name, png)
	if err != nil {
		return err
	}
	if err := o.store.Upload(ctx, o.settings.Container, name, png); err != nil {
		return xerrors.Errorf("upload %s: %w", localPath, err)
	}
	result.ArtifactName = name
	result.Url = o.store.PublicURL(name)
	o.emit(models.StepResult, "uploaded %s, model rmse %.4f", result.Url, result.ModelRMSE)
	return nil
}
