package service

import (
	"context"
	"errors"
	"net/url"

	"robolabs-sync/internal/core/logger"
	"robolabs-sync/internal/features/sync/domain"
	"robolabs-sync/internal/features/sync/mapper"
	"robolabs-sync/internal/features/sync/ports"

	"go.uber.org/zap"
)

var errNoRemoteID = errors.New("remote response contains no id")

// Resolver maps store-side entities onto their RoboLabs counterparts,
// creating the remote record when no match exists. Resolved ids are written
// back to the store so subsequent syncs skip the lookup.
type Resolver struct {
	api      ports.APIClient
	store    ports.OrderStore
	settings ports.SettingsStore
	mapper   mapper.Mapper
}

func NewResolver(api ports.APIClient, store ports.OrderStore, settings ports.SettingsStore, m mapper.Mapper) *Resolver {
	return &Resolver{
		api:      api,
		store:    store,
		settings: settings,
		mapper:   m,
	}
}

// EnsurePartner resolves the RoboLabs partner for the order's customer.
// Resolution order: the order's own sync state, the customer's cached
// reference, a remote find by external id then email, and finally creation.
// The resolved id is persisted on the sync state before returning.
func (r *Resolver) EnsurePartner(ctx context.Context, order *domain.Order, state *domain.SyncState) (int64, error) {
	if state.PartnerRemoteID != 0 {
		return state.PartnerRemoteID, nil
	}

	externalID := mapper.PartnerExternalID(order)

	if order.CustomerID != 0 {
		ref, err := r.store.CustomerRef(ctx, order.CustomerID)
		if err != nil {
			return 0, err
		}
		if ref != nil && ref.RemoteID != 0 {
			return r.adoptPartner(ctx, order, state, ref.RemoteID, externalID)
		}
	}

	byExternal := url.Values{}
	byExternal.Set("external_id", externalID)

	byEmail := url.Values{}
	if order.Billing.Email != "" {
		byEmail.Set("email", order.Billing.Email)
	}

	if record := findOne(ctx, r.api, "partner/find", byExternal, byEmail); record != nil {
		return r.adoptPartner(ctx, order, state, record.ID, externalID)
	}

	res := r.api.Post(ctx, "partner", r.mapper.BuildPartnerPayload(order))
	if !res.OK() {
		return 0, res.Err()
	}

	var created createEnvelope
	if err := res.Decode(&created); err != nil {
		return 0, err
	}
	if created.ID == 0 {
		return 0, errNoRemoteID
	}

	logger.Get().Info("Created RoboLabs partner",
		zap.Int64("order_id", order.ID),
		zap.String("external_id", externalID),
		zap.Int64("partner_id", created.ID),
	)

	return r.adoptPartner(ctx, order, state, created.ID, externalID)
}

func (r *Resolver) adoptPartner(ctx context.Context, order *domain.Order, state *domain.SyncState, remoteID int64, externalID string) (int64, error) {
	state.PartnerRemoteID = remoteID
	if err := r.store.SaveSyncState(ctx, order.ID, state); err != nil {
		return 0, err
	}

	if order.CustomerID != 0 {
		ref := domain.RemoteRef{RemoteID: remoteID, ExternalID: externalID}
		if err := r.store.SaveCustomerRef(ctx, order.CustomerID, ref); err != nil {
			logger.Get().Warn("Failed to cache customer reference",
				zap.Int64("customer_id", order.CustomerID),
				zap.Error(err),
			)
		}
	}

	return remoteID, nil
}

// EnsureProduct resolves the RoboLabs product for a store product id.
// Resolution order: cached reference on the product, remote find by external
// id then SKU, creation.
func (r *Resolver) EnsureProduct(ctx context.Context, productID int64) (int64, error) {
	ref, err := r.store.ProductRef(ctx, productID)
	if err != nil {
		return 0, err
	}
	if ref != nil && ref.RemoteID != 0 {
		return ref.RemoteID, nil
	}

	product, err := r.store.Product(ctx, productID)
	if err != nil {
		return 0, err
	}

	externalID := mapper.ProductExternalID(productID)

	byExternal := url.Values{}
	byExternal.Set("external_id", externalID)

	bySKU := url.Values{}
	if product.SKU != "" {
		bySKU.Set("sku", product.SKU)
	}

	record := findOne(ctx, r.api, "product/find", byExternal, bySKU)
	if record == nil {
		res := r.api.Post(ctx, "product", r.mapper.BuildProductPayload(product))
		if !res.OK() {
			return 0, res.Err()
		}

		var created createEnvelope
		if err := res.Decode(&created); err != nil {
			return 0, err
		}
		if created.ID == 0 {
			return 0, errNoRemoteID
		}
		record = &remoteRecord{ID: created.ID}

		logger.Get().Info("Created RoboLabs product",
			zap.Int64("product_id", productID),
			zap.String("external_id", externalID),
			zap.Int64("remote_id", created.ID),
		)
	}

	saved := domain.RemoteRef{RemoteID: record.ID, ExternalID: externalID}
	if err := r.store.SaveProductRef(ctx, productID, saved); err != nil {
		logger.Get().Warn("Failed to cache product reference",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)
	}

	return record.ID, nil
}

// EnsureShippingProduct resolves the shared shipping service product used
// for shipping invoice lines. The id is cached in settings storage.
func (r *Resolver) EnsureShippingProduct(ctx context.Context) (int64, error) {
	id, err := r.settings.ShippingProductID(ctx)
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return id, nil
	}

	byExternal := url.Values{}
	byExternal.Set("external_id", mapper.ShippingExternalID)

	bySKU := url.Values{}
	bySKU.Set("sku", mapper.ShippingSKU)

	record := findOne(ctx, r.api, "product/find", byExternal, bySKU)
	if record == nil {
		res := r.api.Post(ctx, "product", r.mapper.BuildShippingProductPayload())
		if !res.OK() {
			return 0, res.Err()
		}

		var created createEnvelope
		if err := res.Decode(&created); err != nil {
			return 0, err
		}
		if created.ID == 0 {
			return 0, errNoRemoteID
		}
		record = &remoteRecord{ID: created.ID}

		logger.Get().Info("Created RoboLabs shipping product", zap.Int64("remote_id", created.ID))
	}

	if err := r.settings.SaveShippingProductID(ctx, record.ID); err != nil {
		logger.Get().Warn("Failed to persist shipping product id", zap.Error(err))
	}

	return record.ID, nil
}
