// Package product keeps the exchange's view of the configured products.
//
// On start it fetches the product list, rejects configured products the
// exchange does not list, and warns about products that are not tradable.
// A reconcile loop refetches the list and reports status transitions so
// replicas can resync when a product comes back online.
package product
