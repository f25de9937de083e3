package services

import "github.com/ustawi/donation-gateway/models"

// StatusNotifier is told about every applied donation status change.
type StatusNotifier interface {
	DonationStatusChanged(d *models.Donation)
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) DonationStatusChanged(*models.Donation) {}
