package sqlinline

const ledgerUserColumns = `email, subject_id, quota_remaining, is_premium, billing_customer_id,
    coalesce(billing_subscription_id, '') as billing_subscription_id, created_at, updated_at`

const QSelectLedgerUser = `--sql 952a2ee1-364a-410b-8754-f5f09a617831
select ` + ledgerUserColumns + `
from ledger_users
where email = $1
limit 1;
`

const QInsertLedgerUser = `--sql 38b40042-3f6b-4e72-aa4b-f09c3a623413
insert into ledger_users (email, subject_id, quota_remaining, is_premium, billing_customer_id, billing_subscription_id, created_at, updated_at)
values ($1, $2, $3, $4, $5, nullif($6, ''), $7, $7)
on conflict do nothing
returning created_at;
`

const QConsumeLedgerQuota = `--sql 3511602c-9977-4462-b68b-795101da62a8
update ledger_users
set quota_remaining = quota_remaining - 1,
    updated_at = now()
where email = $1
  and not is_premium
  and quota_remaining > 0
returning ` + ledgerUserColumns + `;
`

// Subscription change codes for the premium updates: 0 keep, 1 set, 2 clear.
const QSetPremiumByCustomer = `--sql 3cfd60fb-ee14-418f-99eb-905e23261d92
update ledger_users
set is_premium = $2,
    billing_subscription_id = case $3::int
        when 1 then nullif($4::text, '')
        when 2 then null
        else billing_subscription_id
    end,
    updated_at = now()
where billing_customer_id = $1;
`

const QSetPremiumBySubscription = `--sql bec69a84-b8fc-4794-bf57-7011f41cbd66
update ledger_users
set is_premium = $2,
    billing_subscription_id = case $3::int
        when 1 then nullif($4::text, '')
        when 2 then null
        else billing_subscription_id
    end,
    updated_at = now()
where billing_subscription_id = $1;
`

const QAdjustLedgerQuota = `--sql 9f2200c7-1025-477f-a579-5f36dcf1cb08
update ledger_users
set quota_remaining = $2,
    updated_at = now()
where email = $1
returning ` + ledgerUserColumns + `;
`
