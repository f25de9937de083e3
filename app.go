package main

import (
	"fmt"

	"github.com/ustawi/donation-gateway/services"
	"github.com/ustawi/donation-gateway/utils"
	"gorm.io/gorm"
)

// app holds the wired services every command works with.
type app struct {
	config     *utils.Config
	log        *utils.Logger
	db         *gorm.DB
	store      *services.DonationStore
	provider   *services.PaystackClient
	gateway    *services.PaymentGateway
	reconciler *services.Reconciler
	donations  *services.DonationService
}

// newApp loads configuration and connects the database. needGateway makes a
// missing Paystack secret key fatal. notifier may be nil.
func newApp(needGateway bool, notifier services.StatusNotifier) (*app, error) {
	logger := utils.NewLogger()

	cfg, err := utils.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if needGateway {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	db, err := utils.InitDatabase(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	store := services.NewDonationStore(db)
	provider := services.NewPaystackClient(services.PaystackConfig{
		SecretKey: cfg.Paystack.SecretKey,
		BaseURL:   cfg.Paystack.BaseURL,
		Timeout:   cfg.Paystack.Timeout,
	}, nil)
	gateway := services.NewPaymentGateway(provider, store, services.GatewayOptions{
		Currency:       cfg.Paystack.Currency,
		CallbackURL:    cfg.Paystack.CallbackURL,
		AnonymousEmail: cfg.Paystack.AnonymousEmail,
		MpesaProvider:  cfg.Paystack.MpesaProvider,
		CountryCode:    cfg.Paystack.CountryCode,
		TestPhone:      cfg.Paystack.TestPhone,
	}, logger, notifier)

	return &app{
		config:     cfg,
		log:        logger,
		db:         db,
		store:      store,
		provider:   provider,
		gateway:    gateway,
		reconciler: services.NewReconciler(provider, store, cfg.Paystack.SecretKey, logger, notifier),
		donations:  services.NewDonationService(store, gateway, cfg.Paystack.Currency, cfg.Donation.MaxAmount, logger),
	}, nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
